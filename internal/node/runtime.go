package node

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/devsession/internal/heartbeat"
	"github.com/danmuck/devsession/internal/login"
	"github.com/danmuck/devsession/internal/protocol/session"
	"github.com/danmuck/devsession/internal/task"
	"github.com/danmuck/devsession/internal/transport"
	"github.com/rs/zerolog/log"
)

// Runtime is the machinery shared by both roles. It routes transport
// callbacks to the tasks they belong to.
type Runtime struct {
	id    string
	role  string
	cfg   session.Config
	clock func() time.Time

	reg   *login.Registry
	sched *task.Scheduler[login.Event]
	tr    *transport.Transport
	hb    *heartbeat.Manager

	onRequest func(peer string, env session.Envelope)
	onDestroy func(id task.ID)

	mu     sync.Mutex
	byPeer map[string]map[task.ID]struct{}
	peerOf map[task.ID]string
}

func newRuntime(id, role string, cfg session.Config, reg *login.Registry, dial bool) *Runtime {
	cfg = cfg.WithDefaults()
	if reg == nil {
		reg = login.NewRegistry()
	}
	r := &Runtime{
		id:     id,
		role:   role,
		cfg:    cfg,
		clock:  time.Now,
		reg:    reg,
		byPeer: make(map[string]map[task.ID]struct{}),
		peerOf: make(map[task.ID]string),
	}
	r.sched = task.NewScheduler[login.Event](task.Config{TickInterval: cfg.TickInterval, Now: r.clock})
	r.sched.OnDestroy(r.unbind)
	r.tr = transport.New(transport.Config{Session: cfg, Dial: dial, Now: r.clock}, r)
	r.hb = heartbeat.NewManager(heartbeat.Config{
		Interval:  cfg.HeartbeatInterval,
		DeadAfter: cfg.SessionDeadAfter,
	}, r.tr)
	return r
}

func (r *Runtime) NodeID() string            { return r.id }
func (r *Runtime) Role() string              { return r.role }
func (r *Runtime) Registry() *login.Registry { return r.reg }
func (r *Runtime) Tasks() int                { return r.sched.Len() }
func (r *Runtime) PendingTransactions() int  { return r.tr.PendingCount() }

// SpawnSessionTask runs t as a child of sessionID; it is destroyed with the
// session.
func (r *Runtime) SpawnSessionTask(sessionID string, t task.Task[login.Event]) (task.ID, error) {
	return r.sched.SpawnChild(sessionID, t)
}

// deps builds the collaborators of the task with the given id.
func (r *Runtime) deps(id task.ID) login.Deps {
	return login.Deps{
		Registry:     r.reg,
		Heartbeat:    r.hb,
		Children:     r.sched,
		Sender:       r.tr.Bind(uint64(id)),
		Clock:        r.clock,
		LoginTimeout: r.cfg.LoginTimeout,
	}
}

// bind routes disconnects of peer to task id.
func (r *Runtime) bind(id task.ID, peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byPeer[peer]
	if !ok {
		set = make(map[task.ID]struct{})
		r.byPeer[peer] = set
	}
	set[id] = struct{}{}
	r.peerOf[id] = peer
}

func (r *Runtime) unbind(id task.ID) {
	r.mu.Lock()
	peer, ok := r.peerOf[id]
	if ok {
		delete(r.peerOf, id)
		if set := r.byPeer[peer]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byPeer, peer)
			}
		}
	}
	hook := r.onDestroy
	r.mu.Unlock()
	if hook != nil {
		hook(id)
	}
}

func (r *Runtime) owns(id task.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peerOf[id]
	return ok
}

func (r *Runtime) tasksFor(peer string) []task.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]task.ID, 0, len(r.byPeer[peer]))
	for id := range r.byPeer[peer] {
		ids = append(ids, id)
	}
	return ids
}

func (r *Runtime) deliver(id task.ID, ev login.Event) bool {
	if err := r.sched.Deliver(id, ev); err != nil {
		log.Debug().
			Err(err).
			Str("node", r.id).
			Uint64("task", uint64(id)).
			Str("event", ev.Kind.String()).
			Msg("node.Runtime event dropped")
		return false
	}
	return true
}

func (r *Runtime) OnRequest(peer string, env session.Envelope) {
	if r.onRequest == nil {
		log.Warn().Str("node", r.id).Str("peer", peer).Msg("node.Runtime request ignored")
		return
	}
	r.onRequest(peer, env)
}

func (r *Runtime) OnResponse(owner uint64, peer string, env session.Envelope) {
	ev, ok := login.EventFromEnvelope(peer, env)
	if !ok {
		log.Warn().
			Str("node", r.id).
			Str("peer", peer).
			Uint64("task", owner).
			Msg("node.Runtime unrecognized response ignored")
		return
	}
	r.deliver(task.ID(owner), ev)
}

func (r *Runtime) OnFailure(owner uint64, peer, transID string, status uint32) {
	if owner == 0 {
		return
	}
	r.deliver(task.ID(owner), login.TransportFailure(peer, transID, status))
}

func (r *Runtime) OnDisconnect(peer string) {
	ids := r.tasksFor(peer)
	log.Info().Str("node", r.id).Str("peer", peer).Int("tasks", len(ids)).Msg("node.Runtime peer disconnected")
	for _, id := range ids {
		r.deliver(id, login.PeerDisconnect(peer))
	}
}

// run drives the scheduler until ctx ends, then tears the runtime down.
func (r *Runtime) run(ctx context.Context) {
	r.sched.Run(ctx)
	r.hb.Close()
	r.tr.Close()
	log.Info().Str("node", r.id).Str("role", r.role).Msg("node.Runtime stopped")
}
