package login

import (
	"fmt"

	"github.com/danmuck/devsession/internal/protocol/session"
)

type EventKind int

const (
	EventLoginRequest EventKind = iota + 1
	EventLoginResponse
	EventLogoutRequest
	EventLogoutResponse
	EventPeerDisconnect
	EventTransportFailure
	// EventStartLogout is the local command asking a device to log out.
	EventStartLogout
)

func (k EventKind) String() string {
	switch k {
	case EventLoginRequest:
		return "login_request"
	case EventLoginResponse:
		return "login_response"
	case EventLogoutRequest:
		return "logout_request"
	case EventLogoutResponse:
		return "logout_response"
	case EventPeerDisconnect:
		return "peer_disconnect"
	case EventTransportFailure:
		return "transport_failure"
	case EventStartLogout:
		return "start_logout"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one input to a login state machine.
type Event struct {
	Kind    EventKind
	TransID string
	// Peer is the remote endpoint the event came from.
	Peer    string
	Message session.Message
	// Status is set on EventTransportFailure.
	Status uint32
}

// EventFromEnvelope maps a decoded protocol message to its event. It
// reports false for messages the state machines do not consume.
func EventFromEnvelope(peer string, env session.Envelope) (Event, bool) {
	ev := Event{TransID: env.TransID, Peer: peer, Message: env.Message}
	switch env.Message.(type) {
	case session.LoginRequest:
		ev.Kind = EventLoginRequest
	case session.LoginResponse:
		ev.Kind = EventLoginResponse
	case session.LogoutRequest:
		ev.Kind = EventLogoutRequest
	case session.LogoutResponse:
		ev.Kind = EventLogoutResponse
	default:
		return Event{}, false
	}
	return ev, true
}

func PeerDisconnect(peer string) Event {
	return Event{Kind: EventPeerDisconnect, Peer: peer}
}

func TransportFailure(peer, transID string, status uint32) Event {
	return Event{Kind: EventTransportFailure, Peer: peer, TransID: transID, Status: status}
}

func StartLogout() Event {
	return Event{Kind: EventStartLogout}
}
