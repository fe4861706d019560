package login

import (
	"slices"
	"time"

	"github.com/danmuck/devsession/internal/observability"
	"github.com/danmuck/devsession/internal/task"
	"github.com/rs/zerolog/log"
)

const (
	RoleInitiator = "initiator"
	RoleAcceptor  = "acceptor"
)

// Reasons a session instance ended, as reported to metrics.
const (
	endLogout     = "logout"
	endExpired    = "expired"
	endDisconnect = "disconnect"
	endRejected   = "rejected"
	endShutdown   = "shutdown"
)

// sessionMember is the immutable registry view of one instance.
type sessionMember struct {
	taskID    task.ID
	devURI    string
	devType   string
	sessionID string
}

func (m sessionMember) TaskID() task.ID   { return m.taskID }
func (m sessionMember) DevURI() string    { return m.devURI }
func (m sessionMember) DevType() string   { return m.devType }
func (m sessionMember) SessionID() string { return m.sessionID }

// sessionData is the state shared by both roles.
type sessionData struct {
	role string
	deps Deps

	id        task.ID
	devURI    string
	devType   string
	devAddrs  []string
	serverURI string
	// peer is the remote endpoint heartbeats target.
	peer      string
	sessionID string

	state   State
	entered time.Time

	handle      Handle
	heartbeatOn bool
	endReason   string
}

func (s *sessionData) setState(next State) {
	s.state = next
	s.entered = s.deps.Clock()
}

// elapsed reports whether more than the login timeout passed since the
// current state was entered.
func (s *sessionData) elapsed(now time.Time) bool {
	return now.Sub(s.entered) > s.deps.LoginTimeout
}

func (s *sessionData) member() sessionMember {
	return sessionMember{
		taskID:    s.id,
		devURI:    s.devURI,
		devType:   s.devType,
		sessionID: s.sessionID,
	}
}

func (s *sessionData) register() error {
	h, err := s.deps.Registry.Insert(s.sessionID, s.member())
	if err != nil {
		return err
	}
	s.handle = h
	observability.SetLiveSessions(s.role, s.deps.Registry.Size())
	return nil
}

// release drops the registry entry this instance inserted. Entries owned by
// another instance are left alone.
func (s *sessionData) release() {
	if !s.handle.Valid() {
		return
	}
	if !s.deps.Registry.Release(s.handle) {
		log.Warn().
			Str("role", s.role).
			Str("session", s.handle.ID).
			Msg("login.session release skipped, entry no longer owned")
	}
	s.handle = Handle{}
	observability.SetLiveSessions(s.role, s.deps.Registry.Size())
}

func (s *sessionData) startHeartbeat() {
	s.deps.Heartbeat.StartHeartbeat(s.peer)
	s.heartbeatOn = true
}

func (s *sessionData) stopHeartbeat() {
	if !s.heartbeatOn {
		return
	}
	s.deps.Heartbeat.StopHeartbeat(s.peer)
	s.heartbeatOn = false
}

func (s *sessionData) destroyChildren() {
	if s.sessionID == "" {
		return
	}
	s.deps.Children.DestroyChildTasks(s.sessionID)
}

// onExit releases what the instance holds in its current state. It runs
// once, when the instance is destroyed.
func (s *sessionData) onExit() {
	switch s.state {
	case StateWaitLogin:
	case StateService:
		s.destroyChildren()
		s.stopHeartbeat()
		s.release()
	case StateWaitLogout:
		s.destroyChildren()
		s.release()
	}

	reason := s.endReason
	if reason == "" {
		reason = endShutdown
	}
	observability.RecordSessionEnd(s.role, reason)
	log.Info().
		Str("role", s.role).
		Uint64("task", uint64(s.id)).
		Str("dev_type", s.devType).
		Str("dev_uri", s.devURI).
		Str("session", s.sessionID).
		Str("state", s.state.String()).
		Str("reason", reason).
		Msg("login.session destroyed")
}

func (s *sessionData) unexpected(ev Event) {
	log.Warn().
		Str("role", s.role).
		Uint64("task", uint64(s.id)).
		Str("state", s.state.String()).
		Str("event", ev.Kind.String()).
		Int("event_kind", int(ev.Kind)).
		Msg("login.session unexpected event ignored")
}

// Addrs returns a copy of the device address list.
func (s *sessionData) Addrs() []string {
	return slices.Clone(s.devAddrs)
}

// State and SessionID are safe to read only from the task's own lane or
// while the task is not scheduled.
func (s *sessionData) State() State      { return s.state }
func (s *sessionData) SessionID() string { return s.sessionID }
func (s *sessionData) DevURI() string    { return s.devURI }
