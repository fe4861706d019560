// Package login implements the device login/logout state machines and the
// registry of live sessions they share.
//
// Initiator runs on the device and drives LOGIN, heartbeat start, LOGOUT
// and re-login after a lost server. Acceptor runs on the server, one per
// device, and validates and registers the device.
//
// Both are task.Task[Event] implementations and rely on the scheduler for
// one-at-a-time delivery. Each releases what it holds in Close according to
// the state it is in at that moment.
package login
