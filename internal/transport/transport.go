package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/devsession/internal/observability"
	"github.com/danmuck/devsession/internal/protocol/frame"
	"github.com/danmuck/devsession/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed             = errors.New("transport: closed")
	ErrNoRoute            = errors.New("transport: no route to peer")
	ErrUnknownTransaction = errors.New("transport: unknown transaction")
	ErrBacklogFull        = errors.New("transport: peer backlog full")
	ErrPingFailed         = errors.New("transport: ping failed")
)

const outboundBacklog = 64

// Dispatcher receives everything the transport reads or gives up on.
// Callbacks run on transport goroutines and must not block.
type Dispatcher interface {
	OnRequest(peer string, env session.Envelope)
	OnResponse(owner uint64, peer string, env session.Envelope)
	OnFailure(owner uint64, peer, transID string, status uint32)
	OnDisconnect(peer string)
}

type Config struct {
	Session session.Config
	// Dial allows links to be opened toward peers on first send.
	Dial bool
	Now  func() time.Time
}

type Transport struct {
	cfg  session.Config
	dial bool
	now  func() time.Time
	disp Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	peers   map[string]*peerLink
	inbound map[string]string
	closed  bool

	pending *session.PendingTable
	msgID   atomic.Uint64
}

func New(cfg Config, disp Dispatcher) *Transport {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:     cfg.Session.WithDefaults(),
		dial:    cfg.Dial,
		now:     cfg.Now,
		disp:    disp,
		ctx:     ctx,
		cancel:  cancel,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		peers:   make(map[string]*peerLink),
		inbound: make(map[string]string),
		pending: session.NewPendingTable(),
	}
	t.wg.Add(1)
	go t.sweep()
	return t
}

// SendRequest queues msg toward dest on behalf of owner and returns its
// transaction id. Delivery problems surface later through OnFailure.
func (t *Transport) SendRequest(owner uint64, msg session.Message, dest string) (string, error) {
	return t.request(owner, msg, dest, nil)
}

// SendResponse answers the inbound request identified by transID on the
// connection it arrived on.
func (t *Transport) SendResponse(transID string, msg session.Message) error {
	t.mu.Lock()
	peer, ok := t.inbound[transID]
	if ok {
		delete(t.inbound, transID)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, transID)
	}
	return t.respond(peer, transID, msg)
}

// Ping sends a heartbeat request to peer and waits for its answer.
func (t *Transport) Ping(ctx context.Context, peer string) error {
	done := make(chan session.Envelope, 1)
	if _, err := t.request(0, session.HeartbeatRequest{}, peer, done); err != nil {
		return err
	}
	select {
	case env, ok := <-done:
		if !ok {
			return ErrPingFailed
		}
		if _, isResp := env.Message.(session.HeartbeatResponse); !isResp {
			return fmt.Errorf("%w: unexpected %T", ErrPingFailed, env.Message)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect drops the link to peer. OnDisconnect fires even when no
// connection is currently open.
func (t *Transport) Disconnect(peer string) {
	t.mu.Lock()
	pl, ok := t.peers[peer]
	t.mu.Unlock()
	if ok && pl.closeConn() {
		return
	}
	log.Info().Str("peer", peer).Msg("transport.Transport disconnect without live link")
	t.disp.OnDisconnect(peer)
}

// Connected reports whether a connection to peer is currently open.
func (t *Transport) Connected(peer string) bool {
	t.mu.Lock()
	pl, ok := t.peers[peer]
	t.mu.Unlock()
	return ok && pl.current() != nil
}

func (t *Transport) PendingCount() int {
	return t.pending.Len()
}

// Close stops every link and the sweeper. Pending transactions are dropped
// without notification.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	links := make([]*peerLink, 0, len(t.peers))
	for _, pl := range t.peers {
		links = append(links, pl)
	}
	t.mu.Unlock()

	t.cancel()
	for _, pl := range links {
		pl.shutdown()
	}
	t.wg.Wait()
}

// Listen opens the session listener, with TLS when configured.
func (t *Transport) Listen(addr string) (net.Listener, error) {
	if err := t.cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !t.cfg.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := t.cfg.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

// Serve accepts connections on ln until ctx ends or ln fails.
func (t *Transport) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		select {
		case <-ctx.Done():
		case <-t.ctx.Done():
		}
		_ = ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		t.accept(nc)
	}
}

func (t *Transport) accept(nc net.Conn) {
	peer := nc.RemoteAddr().String()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = nc.Close()
		return
	}
	pl := t.newLink(peer, false)
	t.peers[peer] = pl
	t.mu.Unlock()

	log.Info().Str("peer", peer).Msg("transport.Transport accepted connection")
	pl.attach(nc)
}

func (t *Transport) request(owner uint64, msg session.Message, dest string, done chan session.Envelope) (string, error) {
	now := t.now()
	transID, err := session.NewTransID(now)
	if err != nil {
		return "", err
	}
	payload, err := session.EncodeFrame(session.Envelope{
		MessageID: t.msgID.Add(1),
		TransID:   transID,
		Message:   msg,
	})
	if err != nil {
		return "", err
	}
	pl, err := t.route(dest)
	if err != nil {
		return "", err
	}
	t.pending.Add(session.Pending{
		TransID:     transID,
		Owner:       owner,
		Peer:        dest,
		MessageType: msg.MessageType(),
		SentAt:      now,
		Deadline:    now.Add(t.cfg.TransactionTimeout),
		Done:        done,
	})
	if err := pl.enqueue(outbound{transID: transID, payload: payload, request: true}); err != nil {
		t.pending.Take(transID)
		return "", err
	}
	return transID, nil
}

func (t *Transport) respond(peer, transID string, msg session.Message) error {
	payload, err := session.EncodeFrame(session.Envelope{
		MessageID: t.msgID.Add(1),
		TransID:   transID,
		Response:  true,
		Message:   msg,
	})
	if err != nil {
		return err
	}
	pl, err := t.route(peer)
	if err != nil {
		return err
	}
	return pl.enqueue(outbound{transID: transID, payload: payload})
}

// route finds the link for peer, creating a dialable one when allowed.
func (t *Transport) route(peer string) (*peerLink, error) {
	peer = strings.TrimSpace(peer)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if pl, ok := t.peers[peer]; ok {
		return pl, nil
	}
	if !t.dial || peer == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoRoute, peer)
	}
	pl := t.newLink(peer, true)
	t.peers[peer] = pl
	return pl, nil
}

// settle resolves a pending transaction that will never see its response.
func (t *Transport) settle(p session.Pending, status uint32) {
	observability.RecordTransportFailure(status)
	if p.Done != nil {
		close(p.Done)
		return
	}
	log.Debug().
		Str("peer", p.Peer).
		Str("trans_id", p.TransID).
		Uint32("status", status).
		Msg("transport.Transport transaction failed")
	t.disp.OnFailure(p.Owner, p.Peer, p.TransID, status)
}

func (t *Transport) fail(transID string, status uint32) {
	if p, ok := t.pending.Take(transID); ok {
		t.settle(p, status)
	}
}

func (t *Transport) sweep() {
	defer t.wg.Done()
	ticker := time.NewTicker(sweepInterval(t.cfg))
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			for _, p := range t.pending.Expired(t.now()) {
				t.settle(p, session.StatusTimeout)
			}
		}
	}
}

func sweepInterval(cfg session.Config) time.Duration {
	d := cfg.TransactionTimeout / 4
	if d > cfg.TickInterval {
		d = cfg.TickInterval
	}
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// handleFrame routes one decoded inbound frame.
func (t *Transport) handleFrame(pl *peerLink, f frame.Frame) {
	env, err := session.DecodeFrame(f)
	if err != nil {
		log.Warn().
			Err(err).
			Str("peer", pl.peer).
			Uint32("message_type", f.Header.MessageType).
			Msg("transport.Transport dropped undecodable frame")
		return
	}
	if env.Response {
		pl.forget(env.TransID)
		p, ok := t.pending.Take(env.TransID)
		if !ok {
			log.Debug().Str("peer", pl.peer).Str("trans_id", env.TransID).Msg("transport.Transport late response ignored")
			return
		}
		if p.Done != nil {
			p.Done <- env
			return
		}
		t.disp.OnResponse(p.Owner, pl.peer, env)
		return
	}

	if _, ok := env.Message.(session.HeartbeatRequest); ok {
		if err := t.respond(pl.peer, env.TransID, session.HeartbeatResponse{}); err != nil {
			log.Warn().Err(err).Str("peer", pl.peer).Msg("transport.Transport heartbeat answer failed")
		}
		return
	}
	t.mu.Lock()
	t.inbound[env.TransID] = pl.peer
	t.mu.Unlock()
	t.disp.OnRequest(pl.peer, env)
}

// linkLost runs once per closed connection.
func (t *Transport) linkLost(pl *peerLink, inflight []string) {
	if t.ctx.Err() != nil {
		return
	}
	for _, id := range inflight {
		t.fail(id, session.StatusUnavailable)
	}
	if !pl.dialable {
		t.mu.Lock()
		if t.peers[pl.peer] == pl {
			delete(t.peers, pl.peer)
		}
		for id, peer := range t.inbound {
			if peer == pl.peer {
				delete(t.inbound, id)
			}
		}
		t.mu.Unlock()
		pl.shutdown()
		for _, p := range t.pending.DropPeer(pl.peer) {
			t.settle(p, session.StatusUnavailable)
		}
	}
	log.Info().Str("peer", pl.peer).Msg("transport.Transport peer disconnected")
	t.disp.OnDisconnect(pl.peer)
}

func (t *Transport) dialPeer(peer string) (net.Conn, error) {
	if err := t.cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxDialAttempts; attempt++ {
		nc, err := t.dialOnce(peer)
		if err == nil {
			return nc, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Str("peer", peer).Msg("transport.Transport dial failed")
		if attempt == t.cfg.MaxDialAttempts {
			break
		}
		if err := t.sleepBackoff(attempt); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (t *Transport) dialOnce(peer string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	raw, err := dialer.DialContext(t.ctx, "tcp", peer)
	if err != nil {
		return nil, err
	}
	if !t.cfg.TLS.Enabled {
		return raw, nil
	}
	tlsCfg, err := t.cfg.ClientTLSConfig(peer)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	conn := tls.Client(raw, tlsCfg)
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

func (t *Transport) sleepBackoff(attempt int) error {
	t.rngMu.Lock()
	delay := session.NextBackoffDelay(t.cfg.Backoff, attempt, t.rng)
	t.rngMu.Unlock()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-t.ctx.Done():
		return t.ctx.Err()
	case <-timer.C:
		return nil
	}
}
