package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog/log"
)

var (
	ErrTaskNotFound    = errors.New("task: task not found")
	ErrSchedulerClosed = errors.New("task: scheduler closed")
	ErrOwnerRequired   = errors.New("task: owner key required")
)

// lastID is process wide so ids from different schedulers never collide.
var lastID atomic.Uint64

type Config struct {
	TickInterval time.Duration
	Now          func() time.Time
}

func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		Now:          time.Now,
	}
}

type itemKind int

const (
	itemStart itemKind = iota
	itemEvent
	itemTick
)

type item[E any] struct {
	kind itemKind
	ev   E
	now  time.Time
}

type slot[E any] struct {
	id    ID
	owner string
	task  Task[E]

	// run is held while any handler of this task executes.
	run sync.Mutex

	qmu        sync.Mutex
	mailbox    *queue.Queue
	scheduled  bool
	tickQueued bool
	closed     bool
}

// Scheduler delivers events and ticks to tasks, one at a time per task.
type Scheduler[E any] struct {
	cfg Config

	mu      sync.RWMutex
	tasks   map[ID]*slot[E]
	owners  map[string]map[ID]struct{}
	hooks   []func(ID)
	stopped bool

	lanes sync.WaitGroup
}

func NewScheduler[E any](cfg Config) *Scheduler[E] {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Scheduler[E]{
		cfg:    cfg,
		tasks:  make(map[ID]*slot[E]),
		owners: make(map[string]map[ID]struct{}),
	}
}

// OnDestroy registers fn to run after any task is destroyed.
func (s *Scheduler[E]) OnDestroy(fn func(ID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Spawn registers t and queues its Start.
func (s *Scheduler[E]) Spawn(t Task[E]) (ID, error) {
	return s.SpawnFunc("", func(ID) Task[E] { return t })
}

// SpawnChild registers t under owner so DestroyChildTasks(owner) tears it down.
func (s *Scheduler[E]) SpawnChild(owner string, t Task[E]) (ID, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return 0, ErrOwnerRequired
	}
	return s.SpawnFunc(owner, func(ID) Task[E] { return t })
}

// SpawnFunc builds the task with its id already assigned, for tasks whose
// collaborators must know the id before Start runs. An empty owner spawns
// a top-level task.
func (s *Scheduler[E]) SpawnFunc(owner string, build func(id ID) Task[E]) (ID, error) {
	id := ID(lastID.Add(1))
	sl := &slot[E]{
		id:      id,
		owner:   strings.TrimSpace(owner),
		task:    build(id),
		mailbox: queue.New(),
	}
	owner = sl.owner
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrSchedulerClosed
	}
	s.tasks[sl.id] = sl
	if owner != "" {
		set, ok := s.owners[owner]
		if !ok {
			set = make(map[ID]struct{})
			s.owners[owner] = set
		}
		set[sl.id] = struct{}{}
	}
	s.mu.Unlock()

	log.Debug().Uint64("task", uint64(sl.id)).Str("owner", owner).Msg("task.Scheduler spawn")
	if err := s.enqueue(sl, item[E]{kind: itemStart}); err != nil {
		return 0, err
	}
	return sl.id, nil
}

// Deliver queues ev for task id.
func (s *Scheduler[E]) Deliver(id ID, ev E) error {
	sl, ok := s.lookup(id)
	if !ok {
		return ErrTaskNotFound
	}
	return s.enqueue(sl, item[E]{kind: itemEvent, ev: ev})
}

// TickAll queues one tick for every live task. A task that still has an
// unprocessed tick does not get a second one.
func (s *Scheduler[E]) TickAll(now time.Time) {
	s.mu.RLock()
	slots := make([]*slot[E], 0, len(s.tasks))
	for _, sl := range s.tasks {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()
	for _, sl := range slots {
		_ = s.enqueue(sl, item[E]{kind: itemTick, now: now})
	}
}

// Run ticks every TickInterval until ctx ends, then shuts the scheduler down.
func (s *Scheduler[E]) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.TickAll(s.cfg.Now())
		}
	}
}

// Destroy runs the task's Close on its lane and forgets it.
func (s *Scheduler[E]) Destroy(id ID) bool {
	sl, ok := s.lookup(id)
	if !ok {
		return false
	}
	sl.run.Lock()
	defer sl.run.Unlock()
	return s.destroyLocked(sl)
}

// DestroyChildTasks destroys every task spawned under owner.
func (s *Scheduler[E]) DestroyChildTasks(owner string) {
	s.mu.RLock()
	ids := make([]ID, 0, len(s.owners[owner]))
	for id := range s.owners[owner] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		s.Destroy(id)
	}
	if len(ids) > 0 {
		log.Debug().Str("owner", owner).Int("count", len(ids)).Msg("task.Scheduler destroyed child tasks")
	}
}

// Children returns the number of live tasks spawned under owner.
func (s *Scheduler[E]) Children(owner string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owners[owner])
}

func (s *Scheduler[E]) Has(id ID) bool {
	_, ok := s.lookup(id)
	return ok
}

func (s *Scheduler[E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Quiesce waits for every lane that is currently draining to go idle.
// Callers must not deliver concurrently with Quiesce.
func (s *Scheduler[E]) Quiesce() {
	s.lanes.Wait()
}

// Shutdown refuses new tasks, destroys all live tasks and waits for lanes.
func (s *Scheduler[E]) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	ids := make([]ID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Destroy(id)
	}
	s.lanes.Wait()
	log.Debug().Int("destroyed", len(ids)).Msg("task.Scheduler shutdown")
}

func (s *Scheduler[E]) lookup(id ID) (*slot[E], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.tasks[id]
	return sl, ok
}

func (s *Scheduler[E]) enqueue(sl *slot[E], it item[E]) error {
	sl.qmu.Lock()
	if sl.closed {
		sl.qmu.Unlock()
		return ErrTaskNotFound
	}
	if it.kind == itemTick {
		if sl.tickQueued {
			sl.qmu.Unlock()
			return nil
		}
		sl.tickQueued = true
	}
	sl.mailbox.Add(it)
	start := !sl.scheduled
	sl.scheduled = true
	sl.qmu.Unlock()

	if start {
		s.lanes.Add(1)
		go s.drain(sl)
	}
	return nil
}

func (s *Scheduler[E]) drain(sl *slot[E]) {
	defer s.lanes.Done()
	for {
		sl.qmu.Lock()
		if sl.closed || sl.mailbox.Length() == 0 {
			sl.scheduled = false
			sl.qmu.Unlock()
			return
		}
		it := sl.mailbox.Remove().(item[E])
		if it.kind == itemTick {
			sl.tickQueued = false
		}
		sl.qmu.Unlock()

		sl.run.Lock()
		if !sl.isClosed() {
			if res := s.invoke(sl, it); res == Destroy {
				s.destroyLocked(sl)
			}
		}
		sl.run.Unlock()
	}
}

func (s *Scheduler[E]) invoke(sl *slot[E], it item[E]) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Uint64("task", uint64(sl.id)).Interface("panic", r).Msg("task.Scheduler handler panic")
			res = ContinueAfterError
		}
	}()
	switch it.kind {
	case itemStart:
		res = sl.task.Start(sl.id)
	case itemTick:
		res = sl.task.Tick(it.now)
	default:
		res = sl.task.Handle(it.ev)
	}
	if res == ContinueAfterError {
		log.Debug().Uint64("task", uint64(sl.id)).Msg("task.Scheduler handler reported error")
	}
	return res
}

// destroyLocked requires sl.run to be held.
func (s *Scheduler[E]) destroyLocked(sl *slot[E]) bool {
	sl.qmu.Lock()
	if sl.closed {
		sl.qmu.Unlock()
		return false
	}
	sl.closed = true
	sl.mailbox = queue.New()
	sl.qmu.Unlock()

	sl.task.Close()

	s.mu.Lock()
	delete(s.tasks, sl.id)
	if sl.owner != "" {
		if set, ok := s.owners[sl.owner]; ok {
			delete(set, sl.id)
			if len(set) == 0 {
				delete(s.owners, sl.owner)
			}
		}
	}
	hooks := append([]func(ID){}, s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(sl.id)
	}
	log.Debug().Uint64("task", uint64(sl.id)).Msg("task.Scheduler destroyed")
	return true
}

func (sl *slot[E]) isClosed() bool {
	sl.qmu.Lock()
	defer sl.qmu.Unlock()
	return sl.closed
}
