package login

import (
	"time"

	"github.com/danmuck/devsession/internal/protocol/session"
)

// Heartbeat keeps a liveness probe running toward a peer.
type Heartbeat interface {
	StartHeartbeat(peer string)
	StopHeartbeat(peer string)
}

// ChildTasks tears down every task spawned under a session id.
type ChildTasks interface {
	DestroyChildTasks(sessionID string)
}

// Sender is bound to one task so responses and failures route back to it.
// SendRequest returns the trans id the eventual response will carry.
type Sender interface {
	SendRequest(msg session.Message, dest string) (string, error)
	SendResponse(transID string, msg session.Message) error
}

// Deps are the collaborators handed to a state machine at construction.
type Deps struct {
	Registry     *Registry
	Heartbeat    Heartbeat
	Children     ChildTasks
	Sender       Sender
	Clock        func() time.Time
	LoginTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Registry == nil {
		d.Registry = NewRegistry()
	}
	if d.Heartbeat == nil {
		d.Heartbeat = noopHeartbeat{}
	}
	if d.Children == nil {
		d.Children = noopChildren{}
	}
	if d.Sender == nil {
		d.Sender = noopSender{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.LoginTimeout <= 0 {
		d.LoginTimeout = session.DefaultConfig().LoginTimeout
	}
	return d
}

type noopHeartbeat struct{}

func (noopHeartbeat) StartHeartbeat(string) {}
func (noopHeartbeat) StopHeartbeat(string)  {}

type noopChildren struct{}

func (noopChildren) DestroyChildTasks(string) {}

type noopSender struct{}

func (noopSender) SendRequest(session.Message, string) (string, error) { return "", nil }
func (noopSender) SendResponse(string, session.Message) error          { return nil }
