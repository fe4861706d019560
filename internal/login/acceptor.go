package login

import (
	"slices"
	"time"

	"github.com/danmuck/devsession/internal/observability"
	"github.com/danmuck/devsession/internal/protocol/session"
	"github.com/danmuck/devsession/internal/task"
	"github.com/rs/zerolog/log"
)

type AcceptorConfig struct {
	// ServerURI is this server's own endpoint, recorded for diagnostics.
	ServerURI string
}

// Acceptor is the server side of one device session. It is created for an
// inbound login request and lives until logout or disconnect.
type Acceptor struct {
	sessionData
}

func NewAcceptor(cfg AcceptorConfig, deps Deps) *Acceptor {
	return &Acceptor{
		sessionData: sessionData{
			role:      RoleAcceptor,
			deps:      deps.withDefaults(),
			serverURI: cfg.ServerURI,
			state:     StateWaitLogin,
		},
	}
}

func (a *Acceptor) Start(id task.ID) task.Result {
	a.id = id
	a.setState(StateWaitLogin)
	return task.Continue
}

func (a *Acceptor) Handle(ev Event) task.Result {
	switch a.state {
	case StateWaitLogin:
		if ev.Kind == EventLoginRequest {
			return a.onLoginRequest(ev)
		}
	case StateService:
		switch ev.Kind {
		case EventLogoutRequest:
			return a.onLogoutRequest(ev)
		case EventPeerDisconnect:
			log.Info().
				Str("session", a.sessionID).
				Str("peer", a.peer).
				Msg("login.Acceptor device disconnected")
			a.endReason = endDisconnect
			return task.Destroy
		}
	}
	a.unexpected(ev)
	return task.ContinueAfterError
}

func (a *Acceptor) Tick(time.Time) task.Result {
	return task.Continue
}

func (a *Acceptor) Close() {
	a.onExit()
}

func (a *Acceptor) onLoginRequest(ev Event) task.Result {
	req, ok := ev.Message.(session.LoginRequest)
	if !ok {
		a.unexpected(ev)
		return task.ContinueAfterError
	}
	a.devURI = req.DevURI
	a.devType = req.DevType
	a.devAddrs = slices.Clone(req.DevAddrs)
	a.peer = ev.Peer
	observability.RecordLoginAttempt(a.role)

	code := a.admit()
	resp := session.LoginResponse{ErrorCode: code}
	if code == session.CodeSuccess {
		resp.Session = a.sessionID
	}
	if err := a.deps.Sender.SendResponse(ev.TransID, resp); err != nil {
		log.Warn().
			Err(err).
			Str("dev_uri", a.devURI).
			Str("trans_id", ev.TransID).
			Msg("login.Acceptor send login response failed")
	}

	if code == session.CodeSuccess {
		if err := a.register(); err != nil {
			log.Error().
				Err(err).
				Str("dev_uri", a.devURI).
				Str("peer", a.peer).
				Msg("login.Acceptor session id taken after success was sent, dropping instance")
			code = session.CodeAlreadyConnected
		}
	}
	observability.RecordLoginResult(a.role, code.String())

	if code != session.CodeSuccess {
		log.Warn().
			Str("dev_uri", a.devURI).
			Str("dev_type", a.devType).
			Str("peer", a.peer).
			Str("code", code.String()).
			Msg("login.Acceptor login rejected")
		a.endReason = endRejected
		return task.Destroy
	}

	a.startHeartbeat()
	a.setState(StateService)
	log.Info().
		Str("dev_uri", a.devURI).
		Str("dev_type", a.devType).
		Strs("dev_addrs", a.devAddrs).
		Str("peer", a.peer).
		Str("server", a.serverURI).
		Msg("login.Acceptor device logged in")
	return task.Continue
}

// admit validates the request and picks the session id on success. The
// registry entry is inserted only once the response is on its way.
func (a *Acceptor) admit() session.Code {
	if !session.ValidDevURI(a.devURI) {
		return session.CodeInvalidDevURI
	}
	if a.deps.Registry.Exists(a.devURI) {
		return session.CodeAlreadyConnected
	}
	a.sessionID = a.devURI
	return session.CodeSuccess
}

func (a *Acceptor) onLogoutRequest(ev Event) task.Result {
	if req, ok := ev.Message.(session.LogoutRequest); ok && req.Session != a.sessionID {
		log.Warn().
			Str("session", a.sessionID).
			Str("requested", req.Session).
			Msg("login.Acceptor logout names a different session")
	}
	if err := a.deps.Sender.SendResponse(ev.TransID, session.LogoutResponse{ErrorCode: session.CodeSuccess}); err != nil {
		log.Warn().
			Err(err).
			Str("session", a.sessionID).
			Str("trans_id", ev.TransID).
			Msg("login.Acceptor send logout response failed")
	}
	a.stopHeartbeat()
	log.Info().
		Str("session", a.sessionID).
		Msg("login.Acceptor device logged out")
	a.endReason = endLogout
	return task.Destroy
}
