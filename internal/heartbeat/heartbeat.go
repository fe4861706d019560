// Package heartbeat probes session peers and drops the ones that stop
// answering.
package heartbeat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/devsession/internal/observability"
	"github.com/rs/zerolog/log"
)

// Pinger is the transport surface the heartbeat needs.
type Pinger interface {
	Ping(ctx context.Context, peer string) error
	Disconnect(peer string)
}

type Config struct {
	Interval  time.Duration
	DeadAfter time.Duration
}

// peerState tracks the sessions using a peer separately from the loop
// probing it, so a loop that ends on a dead peer leaves the count intact.
type peerState struct {
	refs int
	loop *pingLoop
}

type pingLoop struct {
	cancel context.CancelFunc
}

// Manager runs one probe loop per peer. A peer that has not answered for
// longer than DeadAfter is disconnected through the Pinger.
type Manager struct {
	cfg    Config
	pinger Pinger

	mu     sync.Mutex
	peers  map[string]*peerState
	closed bool
	wg     sync.WaitGroup
}

func NewManager(cfg Config, pinger Pinger) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.DeadAfter < cfg.Interval {
		cfg.DeadAfter = 3 * cfg.Interval
	}
	return &Manager{
		cfg:    cfg,
		pinger: pinger,
		peers:  make(map[string]*peerState),
	}
}

// StartHeartbeat adds a reference to peer and starts probing it unless a
// loop is already running.
func (m *Manager) StartHeartbeat(peer string) {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	ps, ok := m.peers[peer]
	if !ok {
		ps = &peerState{}
		m.peers[peer] = ps
	}
	ps.refs++
	if ps.loop != nil {
		log.Debug().Str("peer", peer).Int("refs", ps.refs).Msg("heartbeat.Manager already probing")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ps.loop = &pingLoop{cancel: cancel}
	m.wg.Add(1)
	go m.run(ctx, peer, ps.loop)
	log.Debug().Str("peer", peer).Int("refs", ps.refs).Dur("interval", m.cfg.Interval).Msg("heartbeat.Manager start")
}

// StopHeartbeat drops one reference and stops probing when none remain.
// It does not wait for the loop to exit.
func (m *Manager) StopHeartbeat(peer string) {
	peer = strings.TrimSpace(peer)
	m.mu.Lock()
	ps, ok := m.peers[peer]
	if !ok {
		m.mu.Unlock()
		return
	}
	ps.refs--
	if ps.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.peers, peer)
	loop := ps.loop
	m.mu.Unlock()
	if loop != nil {
		loop.cancel()
	}
	log.Debug().Str("peer", peer).Msg("heartbeat.Manager stop")
}

// Active reports whether a ping loop is running toward peer.
func (m *Manager) Active(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.peers[peer]
	return ok && ps.loop != nil
}

// Len returns the number of running ping loops.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ps := range m.peers {
		if ps.loop != nil {
			n++
		}
	}
	return n
}

func (m *Manager) refs(peer string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.peers[peer]; ok {
		return ps.refs
	}
	return 0
}

// Close stops every probe and waits for the loops to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for peer, ps := range m.peers {
		if ps.loop != nil {
			ps.loop.cancel()
		}
		delete(m.peers, peer)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, peer string, loop *pingLoop) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, m.cfg.Interval)
		err := m.pinger.Ping(pingCtx, peer)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			lastOK = time.Now()
			observability.RecordHeartbeat("ok")
			continue
		}
		observability.RecordHeartbeat("failed")
		silent := time.Since(lastOK)
		log.Debug().Err(err).Str("peer", peer).Dur("silent", silent).Msg("heartbeat.Manager probe failed")
		if silent <= m.cfg.DeadAfter {
			continue
		}

		m.mu.Lock()
		ps, ok := m.peers[peer]
		owned := ok && ps.loop == loop
		if owned {
			ps.loop = nil
		}
		m.mu.Unlock()
		loop.cancel()
		if !owned {
			return
		}
		log.Warn().Str("peer", peer).Dur("silent", silent).Msg("heartbeat.Manager peer dead, disconnecting")
		observability.RecordHeartbeat("dead")
		m.pinger.Disconnect(peer)
		return
	}
}
