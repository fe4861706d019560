package login

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/danmuck/devsession/internal/observability"
	"github.com/danmuck/devsession/internal/protocol/session"
	"github.com/danmuck/devsession/internal/task"
	"github.com/rs/zerolog/log"
)

type InitiatorConfig struct {
	DevURI   string
	DevType  string
	DevAddrs []string
	// ServerURI is the endpoint login and logout requests are sent to.
	ServerURI string
}

// Initiator is the device side of a session. It logs in, retries until it
// succeeds, keeps the heartbeat running while in service and logs out on
// request. It never holds a registry entry; the registry belongs to the
// acceptors of the same process.
type Initiator struct {
	sessionData
	loginSentAt  time.Time
	loginTransID string
	loggedIn     atomic.Bool
}

func NewInitiator(cfg InitiatorConfig, deps Deps) *Initiator {
	return &Initiator{
		sessionData: sessionData{
			role:      RoleInitiator,
			deps:      deps.withDefaults(),
			devURI:    cfg.DevURI,
			devType:   cfg.DevType,
			devAddrs:  slices.Clone(cfg.DevAddrs),
			serverURI: cfg.ServerURI,
			peer:      cfg.ServerURI,
			state:     StateWaitLogin,
		},
	}
}

func (in *Initiator) Start(id task.ID) task.Result {
	in.id = id
	in.enterLogin()
	return task.Continue
}

func (in *Initiator) Handle(ev Event) task.Result {
	switch in.state {
	case StateWaitLogin:
		switch ev.Kind {
		case EventLoginResponse:
			return in.onLoginResponse(ev)
		case EventTransportFailure:
			observability.RecordTransportFailure(ev.Status)
			log.Warn().
				Str("dev_uri", in.devURI).
				Str("server", in.serverURI).
				Uint32("status", ev.Status).
				Msg("login.Initiator login request failed, waiting for retry")
			return task.Continue
		}
	case StateService:
		switch ev.Kind {
		case EventPeerDisconnect:
			return in.onServerLost()
		case EventStartLogout:
			return in.startLogout()
		}
	case StateWaitLogout:
		switch ev.Kind {
		case EventLogoutResponse:
			if resp, ok := ev.Message.(session.LogoutResponse); ok && resp.ErrorCode != session.CodeSuccess {
				log.Warn().
					Str("session", in.sessionID).
					Str("code", resp.ErrorCode.String()).
					Msg("login.Initiator logout rejected by server, ending session anyway")
			}
			in.endReason = endLogout
			return task.Destroy
		case EventTransportFailure:
			observability.RecordTransportFailure(ev.Status)
			log.Warn().
				Str("session", in.sessionID).
				Uint32("status", ev.Status).
				Msg("login.Initiator logout request failed, ending session")
			in.endReason = endLogout
			return task.Destroy
		case EventPeerDisconnect:
			in.endReason = endDisconnect
			return task.Destroy
		}
	}

	if ev.Kind == EventStartLogout {
		log.Warn().
			Str("dev_uri", in.devURI).
			Str("state", in.state.String()).
			Msg("login.Initiator logout requested outside service, ignored")
		return task.ContinueAfterError
	}
	in.unexpected(ev)
	return task.ContinueAfterError
}

func (in *Initiator) Tick(now time.Time) task.Result {
	switch in.state {
	case StateWaitLogin:
		if in.elapsed(now) {
			log.Info().
				Str("dev_uri", in.devURI).
				Str("server", in.serverURI).
				Msg("login.Initiator login timed out, retrying")
			in.enterLogin()
		}
	case StateWaitLogout:
		if in.elapsed(now) {
			log.Warn().
				Str("session", in.sessionID).
				Msg("login.Initiator logout timed out, forcing session end")
			in.endReason = endExpired
			return task.Destroy
		}
	}
	return task.Continue
}

func (in *Initiator) Close() {
	in.loggedIn.Store(false)
	in.onExit()
}

// LoggedIn reports whether the initiator is in service. Safe to call from
// any goroutine.
func (in *Initiator) LoggedIn() bool {
	return in.loggedIn.Load()
}

func (in *Initiator) enterLogin() {
	req := session.LoginRequest{
		DevURI:   in.devURI,
		DevType:  in.devType,
		DevAddrs: slices.Clone(in.devAddrs),
	}
	in.setState(StateWaitLogin)
	in.loginSentAt = in.entered
	observability.RecordLoginAttempt(in.role)
	transID, err := in.deps.Sender.SendRequest(req, in.serverURI)
	in.loginTransID = transID
	if err != nil {
		log.Warn().
			Err(err).
			Str("dev_uri", in.devURI).
			Str("server", in.serverURI).
			Msg("login.Initiator send login request failed")
	}
}

func (in *Initiator) onLoginResponse(ev Event) task.Result {
	resp, ok := ev.Message.(session.LoginResponse)
	if !ok {
		in.unexpected(ev)
		return task.ContinueAfterError
	}
	if ev.TransID != in.loginTransID {
		log.Warn().
			Str("dev_uri", in.devURI).
			Str("trans_id", ev.TransID).
			Str("expected", in.loginTransID).
			Msg("login.Initiator stale login response ignored")
		return task.ContinueAfterError
	}
	observability.RecordLoginResult(in.role, resp.ErrorCode.String())
	if resp.ErrorCode != session.CodeSuccess || resp.Session == "" {
		log.Warn().
			Str("dev_uri", in.devURI).
			Str("code", resp.ErrorCode.String()).
			Msg("login.Initiator login rejected, waiting for retry")
		return task.Continue
	}
	observability.RecordLoginRoundTrip(in.role, in.deps.Clock().Sub(in.loginSentAt))

	in.sessionID = resp.Session
	in.startHeartbeat()
	in.setState(StateService)
	in.loggedIn.Store(true)
	log.Info().
		Str("dev_uri", in.devURI).
		Str("session", in.sessionID).
		Str("server", in.serverURI).
		Msg("login.Initiator logged in")
	return task.Continue
}

func (in *Initiator) onServerLost() task.Result {
	log.Warn().
		Str("session", in.sessionID).
		Str("server", in.serverURI).
		Msg("login.Initiator server connection lost, logging in again")
	in.loggedIn.Store(false)
	observability.RecordSessionEnd(in.role, endDisconnect)
	in.stopHeartbeat()
	in.destroyChildren()
	in.sessionID = ""
	in.enterLogin()
	return task.Continue
}

func (in *Initiator) startLogout() task.Result {
	req := session.LogoutRequest{
		Session: in.sessionID,
		DevURI:  in.devURI,
	}
	if _, err := in.deps.Sender.SendRequest(req, in.serverURI); err != nil {
		log.Warn().
			Err(err).
			Str("session", in.sessionID).
			Msg("login.Initiator send logout request failed")
	}
	in.loggedIn.Store(false)
	in.stopHeartbeat()
	in.setState(StateWaitLogout)
	log.Info().
		Str("session", in.sessionID).
		Msg("login.Initiator logging out")
	return task.Continue
}
