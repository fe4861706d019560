package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/devsession/internal/testutil/testlog"
)

type recordTask struct {
	mu      sync.Mutex
	started ID
	events  []int
	ticks   int
	closed  int
	destroy int
	active  atomic.Int32
	overlap atomic.Bool
	onClose func()
}

func (r *recordTask) enter() func() {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	return func() { r.active.Add(-1) }
}

func (r *recordTask) Start(id ID) Result {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = id
	return Continue
}

func (r *recordTask) Handle(ev int) Result {
	defer r.enter()()
	time.Sleep(100 * time.Microsecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.destroy != 0 && ev == r.destroy {
		return Destroy
	}
	return Continue
}

func (r *recordTask) Tick(time.Time) Result {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
	return Continue
}

func (r *recordTask) Close() {
	defer r.enter()()
	r.mu.Lock()
	r.closed++
	fn := r.onClose
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *recordTask) snapshot() ([]int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.events...), r.ticks, r.closed
}

func TestSchedulerDeliversInOrderWithoutOverlap(t *testing.T) {
	testlog.Start(t)
	s := NewScheduler[int](Config{})
	rt := &recordTask{}
	id, err := s.Spawn(rt)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	for i := 1; i <= 50; i++ {
		if err := s.Deliver(id, i); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
		if i%10 == 0 {
			s.TickAll(time.Now())
		}
	}
	s.Quiesce()

	events, _, _ := rt.snapshot()
	if len(events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev != i+1 {
			t.Fatalf("event %d out of order: %d", i, ev)
		}
	}
	if rt.overlap.Load() {
		t.Fatalf("handlers of one task overlapped")
	}
	if rt.started != id {
		t.Fatalf("start saw id %d, want %d", rt.started, id)
	}
}

func TestSchedulerDestroyResultClosesOnceAndDropsQueued(t *testing.T) {
	testlog.Start(t)
	s := NewScheduler[int](Config{})
	rt := &recordTask{destroy: 3}
	destroyed := make(chan ID, 1)
	s.OnDestroy(func(id ID) { destroyed <- id })

	id, err := s.Spawn(rt)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	for i := 1; i <= 3; i++ {
		_ = s.Deliver(id, i)
	}
	s.Quiesce()

	if err := s.Deliver(id, 4); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound after destroy, got %v", err)
	}
	events, _, closed := rt.snapshot()
	if closed != 1 {
		t.Fatalf("expected one close, got %d", closed)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 handled events, got %v", events)
	}
	if s.Has(id) || s.Len() != 0 {
		t.Fatalf("destroyed task still registered")
	}
	select {
	case got := <-destroyed:
		if got != id {
			t.Fatalf("hook saw %d, want %d", got, id)
		}
	default:
		t.Fatalf("destroy hook not called")
	}
	if s.Destroy(id) {
		t.Fatalf("second destroy should report false")
	}
}

func TestSchedulerTicksCoalesce(t *testing.T) {
	testlog.Start(t)
	s := NewScheduler[int](Config{})
	rt := &recordTask{}
	id, _ := s.Spawn(rt)
	s.Quiesce()

	// A blocked event keeps the first tick queued behind it.
	rt.mu.Lock()
	_ = s.Deliver(id, 1)
	for i := 0; i < 5; i++ {
		s.TickAll(time.Now())
	}
	time.Sleep(5 * time.Millisecond)
	rt.mu.Unlock()
	s.Quiesce()

	_, ticks, _ := rt.snapshot()
	if ticks != 1 {
		t.Fatalf("expected coalesced single tick, got %d", ticks)
	}
}

func TestSchedulerDestroyChildTasks(t *testing.T) {
	testlog.Start(t)
	s := NewScheduler[int](Config{})
	a := &recordTask{}
	b := &recordTask{}
	other := &recordTask{}
	if _, err := s.SpawnChild("dev://A", a); err != nil {
		t.Fatalf("spawn child a: %v", err)
	}
	if _, err := s.SpawnChild("dev://A", b); err != nil {
		t.Fatalf("spawn child b: %v", err)
	}
	if _, err := s.SpawnChild("dev://B", other); err != nil {
		t.Fatalf("spawn child other: %v", err)
	}
	if _, err := s.SpawnChild("  ", other); err != ErrOwnerRequired {
		t.Fatalf("expected ErrOwnerRequired, got %v", err)
	}
	s.Quiesce()
	if s.Children("dev://A") != 2 {
		t.Fatalf("expected 2 children, got %d", s.Children("dev://A"))
	}

	s.DestroyChildTasks("dev://A")
	if _, _, closed := a.snapshot(); closed != 1 {
		t.Fatalf("child a not closed synchronously")
	}
	if _, _, closed := b.snapshot(); closed != 1 {
		t.Fatalf("child b not closed synchronously")
	}
	if _, _, closed := other.snapshot(); closed != 0 {
		t.Fatalf("unrelated child closed")
	}
	if s.Children("dev://A") != 0 || s.Len() != 1 {
		t.Fatalf("unexpected task counts children=%d len=%d", s.Children("dev://A"), s.Len())
	}
	s.DestroyChildTasks("dev://none")
}

func TestSchedulerCloseCanDestroyChildren(t *testing.T) {
	testlog.Start(t)
	s := NewScheduler[int](Config{})
	child := &recordTask{}
	parent := &recordTask{destroy: 1, onClose: func() { s.DestroyChildTasks("sess") }}
	pid, _ := s.Spawn(parent)
	_, _ = s.SpawnChild("sess", child)
	_ = s.Deliver(pid, 1)
	s.Quiesce()

	if _, _, closed := child.snapshot(); closed != 1 {
		t.Fatalf("expected child closed by parent cleanup")
	}
	if s.Len() != 0 {
		t.Fatalf("expected no tasks left, got %d", s.Len())
	}
}

func TestSchedulerShutdownRefusesSpawn(t *testing.T) {
	testlog.Start(t)
	s := NewScheduler[int](Config{TickInterval: time.Millisecond})
	rt := &recordTask{}
	_, _ = s.Spawn(rt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}

	_, ticks, closed := rt.snapshot()
	if ticks == 0 {
		t.Fatalf("expected ticks from run loop")
	}
	if closed != 1 {
		t.Fatalf("expected shutdown to close task, got %d", closed)
	}
	if _, err := s.Spawn(&recordTask{}); err != ErrSchedulerClosed {
		t.Fatalf("expected ErrSchedulerClosed, got %v", err)
	}
}

func TestResultString(t *testing.T) {
	testlog.Start(t)
	if Destroy.String() != "destroy" || Result(9).String() != "result(9)" {
		t.Fatalf("unexpected result strings")
	}
}

func TestSchedulerSpawnFuncPassesAssignedID(t *testing.T) {
	testlog.Start(t)
	s := NewScheduler[int](Config{})
	var built ID
	rt := &recordTask{}
	id, err := s.SpawnFunc("owner", func(id ID) Task[int] {
		built = id
		return rt
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	s.Quiesce()
	if built != id || rt.started != id {
		t.Fatalf("build saw %d, start saw %d, want %d", built, rt.started, id)
	}
	if s.Children("owner") != 1 {
		t.Fatalf("expected task registered under owner")
	}
}
