package login

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/devsession/internal/protocol/session"
	"github.com/danmuck/devsession/internal/task"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type sentRequest struct {
	transID string
	msg     session.Message
	dest    string
}

type sentResponse struct {
	transID string
	msg     session.Message
	// registered records whether the response's session was live when sent.
	registered bool
}

type recordingSender struct {
	reg       *Registry
	requests  []sentRequest
	responses []sentResponse
	// whileSending runs inside SendResponse before it returns.
	whileSending func(msg session.Message)
}

func (s *recordingSender) SendRequest(msg session.Message, dest string) (string, error) {
	transID := "t-req-" + strconv.Itoa(len(s.requests)+1)
	s.requests = append(s.requests, sentRequest{transID: transID, msg: msg, dest: dest})
	return transID, nil
}

func (s *recordingSender) SendResponse(transID string, msg session.Message) error {
	out := sentResponse{transID: transID, msg: msg}
	if resp, ok := msg.(session.LoginResponse); ok && s.reg != nil {
		out.registered = resp.Session != "" && s.reg.Exists(resp.Session)
	}
	if s.whileSending != nil {
		s.whileSending(msg)
	}
	s.responses = append(s.responses, out)
	return nil
}

func (s *recordingSender) lastTransID() string {
	if len(s.requests) == 0 {
		return ""
	}
	return s.requests[len(s.requests)-1].transID
}

func (s *recordingSender) loginRequests() int {
	n := 0
	for _, r := range s.requests {
		if _, ok := r.msg.(session.LoginRequest); ok {
			n++
		}
	}
	return n
}

type recordingHeartbeat struct {
	started []string
	stopped []string
}

func (h *recordingHeartbeat) StartHeartbeat(peer string) { h.started = append(h.started, peer) }
func (h *recordingHeartbeat) StopHeartbeat(peer string)  { h.stopped = append(h.stopped, peer) }

type recordingChildren struct {
	destroyed []string
}

func (c *recordingChildren) DestroyChildTasks(id string) {
	c.destroyed = append(c.destroyed, id)
}

type harness struct {
	clock    *fakeClock
	reg      *Registry
	sender   *recordingSender
	hb       *recordingHeartbeat
	children *recordingChildren
}

func newHarness(reg *Registry) *harness {
	if reg == nil {
		reg = NewRegistry()
	}
	return &harness{
		clock:    newFakeClock(),
		reg:      reg,
		sender:   &recordingSender{reg: reg},
		hb:       &recordingHeartbeat{},
		children: &recordingChildren{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Registry:     h.reg,
		Heartbeat:    h.hb,
		Children:     h.children,
		Sender:       h.sender,
		Clock:        h.clock.Now,
		LoginTimeout: 10 * time.Second,
	}
}

// drive feeds ev to t and runs Close when the task asks to be destroyed,
// the way the scheduler does.
func drive(t task.Task[Event], ev Event) task.Result {
	res := t.Handle(ev)
	if res == task.Destroy {
		t.Close()
	}
	return res
}

func tick(t task.Task[Event], now time.Time) task.Result {
	res := t.Tick(now)
	if res == task.Destroy {
		t.Close()
	}
	return res
}

func loginRequest(uri, devType string, addrs ...string) Event {
	return Event{
		Kind:    EventLoginRequest,
		TransID: "t-login-" + uri,
		Peer:    "10.0.0.9:4100",
		Message: session.LoginRequest{DevURI: uri, DevType: devType, DevAddrs: addrs},
	}
}

func loginResponse(code session.Code, sessionID string) Event {
	return Event{
		Kind:    EventLoginResponse,
		Message: session.LoginResponse{ErrorCode: code, Session: sessionID},
	}
}

// reply answers the most recent request h's sender sent.
func (h *harness) reply(ev Event) Event {
	ev.TransID = h.sender.lastTransID()
	return ev
}
