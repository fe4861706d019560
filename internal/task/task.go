package task

import (
	"fmt"
	"time"
)

// ID identifies one live task within a Scheduler.
type ID uint64

// Result tells the scheduler what to do with a task after a handler returns.
type Result int

const (
	Continue Result = iota
	ContinueAfterError
	Destroy
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case ContinueAfterError:
		return "continue_after_error"
	case Destroy:
		return "destroy"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Task is one hosted state machine consuming events of type E.
type Task[E any] interface {
	// Start runs once, first, on the task's lane.
	Start(id ID) Result
	Handle(ev E) Result
	Tick(now time.Time) Result
	// Close releases everything the task holds. It runs exactly once.
	Close()
}
