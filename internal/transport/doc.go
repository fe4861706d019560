// Package transport carries session protocol messages over TCP or TLS.
//
// One Transport serves one node. Outbound requests get a ULID transaction
// id and a pending entry; the response, a transport failure, or the
// transaction deadline settles it exactly once through the Dispatcher.
// Links to dialable peers are dialed lazily with backoff; links accepted
// from a listener live as long as the connection.
//
// Heartbeat requests are answered by the transport itself.
package transport
