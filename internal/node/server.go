package node

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/danmuck/devsession/internal/login"
	"github.com/danmuck/devsession/internal/protocol/session"
	"github.com/danmuck/devsession/internal/task"
	"github.com/rs/zerolog/log"
)

// Server accepts device logins. Each login request gets its own Acceptor.
type Server struct {
	*Runtime
	cfg ServerConfig

	lnMu sync.Mutex
	ln   net.Listener
}

func NewServer(cfg ServerConfig, reg *login.Registry) *Server {
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = "server"
	}
	s := &Server{
		Runtime: newRuntime(cfg.NodeID, login.RoleAcceptor, cfg.Session, reg, false),
		cfg:     cfg,
	}
	s.onRequest = s.handleRequest
	return s
}

// Listen opens the session listener ahead of Run.
func (s *Server) Listen() (string, error) {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String(), nil
	}
	ln, err := s.tr.Listen(s.cfg.ListenAddr)
	if err != nil {
		return "", err
	}
	s.ln = ln
	return ln.Addr().String(), nil
}

// Run serves sessions until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	s.lnMu.Lock()
	ln := s.ln
	s.lnMu.Unlock()
	log.Info().Str("node", s.id).Str("addr", addr).Msg("node.Server listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.tr.Serve(ctx, ln)
	}()
	s.run(ctx)
	return <-serveErr
}

func (s *Server) handleRequest(peer string, env session.Envelope) {
	switch msg := env.Message.(type) {
	case session.LoginRequest:
		s.spawnAcceptor(peer, env)
	case session.LogoutRequest:
		s.routeLogout(peer, env, msg)
	default:
		log.Warn().
			Str("node", s.id).
			Str("peer", peer).
			Uint32("message_type", env.Message.MessageType()).
			Msg("node.Server unrecognized request ignored")
	}
}

func (s *Server) spawnAcceptor(peer string, env session.Envelope) {
	id, err := s.sched.SpawnFunc("", func(id task.ID) task.Task[login.Event] {
		s.bind(id, peer)
		return login.NewAcceptor(login.AcceptorConfig{ServerURI: s.cfg.AdvertiseURI}, s.deps(id))
	})
	if err != nil {
		log.Warn().Err(err).Str("node", s.id).Str("peer", peer).Msg("node.Server spawn acceptor failed")
		return
	}
	ev, _ := login.EventFromEnvelope(peer, env)
	s.deliver(id, ev)
}

// routeLogout hands a logout to the acceptor serving the named session, or
// answers it directly when there is none.
func (s *Server) routeLogout(peer string, env session.Envelope, msg session.LogoutRequest) {
	if m, ok := s.reg.Lookup(msg.Session); ok && s.owns(m.TaskID()) {
		ev, _ := login.EventFromEnvelope(peer, env)
		if s.deliver(m.TaskID(), ev) {
			return
		}
	}
	log.Warn().
		Str("node", s.id).
		Str("peer", peer).
		Str("session", msg.Session).
		Msg("node.Server logout for unknown session")
	if err := s.tr.SendResponse(env.TransID, session.LogoutResponse{ErrorCode: session.CodeSessionNotFound}); err != nil {
		log.Warn().Err(err).Str("node", s.id).Msg("node.Server send logout response failed")
	}
}
