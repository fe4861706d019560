// Package node runs the login state machines against a live transport.
//
// A Server hosts one Acceptor per connected device; a Device hosts one
// Initiator per configured device identity. Both share the same runtime:
// a task scheduler, a transport, a heartbeat manager and a session
// registry whose scope (per role or shared) is chosen by the caller.
package node

import "github.com/danmuck/devsession/internal/login"

// Node is the admin-facing view of a running node.
type Node interface {
	NodeID() string
	Role() string
	Registry() *login.Registry
	Tasks() int
	PendingTransactions() int
}
