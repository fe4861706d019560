package login

import (
	"testing"

	"github.com/danmuck/devsession/internal/protocol/session"
	"github.com/danmuck/devsession/internal/task"
	"github.com/danmuck/devsession/internal/testutil/testlog"
)

// Both roles on one registry, as when a process hosts a server and a
// device talking to it.
func TestSharedRegistryInitiatorLeavesAcceptorEntry(t *testing.T) {
	testlog.Start(t)
	server := newHarness(nil)
	device := newHarness(server.reg)

	a := NewAcceptor(AcceptorConfig{}, server.deps())
	a.Start(1)
	in := NewInitiator(InitiatorConfig{DevURI: "dev://A", DevType: "cam", ServerURI: "srv"}, device.deps())
	in.Start(2)

	drive(a, loginRequest("dev://A", "cam"))
	resp := server.sender.responses[0].msg.(session.LoginResponse)
	drive(in, device.reply(Event{Kind: EventLoginResponse, Message: resp}))
	if in.State() != StateService {
		t.Fatalf("initiator not in service")
	}
	if m, _ := server.reg.Lookup("dev://A"); m.TaskID() != 1 {
		t.Fatalf("initiator replaced acceptor entry")
	}

	drive(in, PeerDisconnect("srv"))
	if m, ok := server.reg.Lookup("dev://A"); !ok || m.TaskID() != 1 {
		t.Fatalf("initiator disconnect erased acceptor entry")
	}

	drive(in, device.reply(loginResponse(session.CodeSuccess, "dev://A")))
	drive(in, StartLogout())
	if res := drive(in, Event{Kind: EventLogoutResponse, Message: session.LogoutResponse{}}); res != task.Destroy {
		t.Fatalf("logout: %v", res)
	}
	if m, ok := server.reg.Lookup("dev://A"); !ok || m.TaskID() != 1 {
		t.Fatalf("initiator cleanup erased acceptor entry")
	}
}

func TestSharedRegistryAcceptorAdmitsDeviceWhileInitiatorInService(t *testing.T) {
	testlog.Start(t)
	device := newHarness(nil)
	server := newHarness(device.reg)

	in := NewInitiator(InitiatorConfig{DevURI: "dev://A", DevType: "cam", ServerURI: "srv"}, device.deps())
	in.Start(2)
	drive(in, device.reply(loginResponse(session.CodeSuccess, "dev://A")))
	if !in.LoggedIn() {
		t.Fatalf("initiator not logged in")
	}
	if device.reg.Exists("dev://A") {
		t.Fatalf("initiator holds a registry entry")
	}

	a := NewAcceptor(AcceptorConfig{}, server.deps())
	a.Start(1)
	if res := drive(a, loginRequest("dev://A", "cam")); res != task.Continue {
		t.Fatalf("acceptor should admit dev://A, got %v", res)
	}
	resp := server.sender.responses[0].msg.(session.LoginResponse)
	if resp.ErrorCode != session.CodeSuccess || resp.Session != "dev://A" {
		t.Fatalf("unexpected login response: %+v", resp)
	}
	if m, ok := device.reg.Lookup("dev://A"); !ok || m.TaskID() != 1 {
		t.Fatalf("acceptor entry missing: %+v", m)
	}

	drive(a, PeerDisconnect("10.0.0.9:4100"))
	if !in.LoggedIn() || in.State() != StateService {
		t.Fatalf("acceptor teardown disturbed the initiator")
	}
}
