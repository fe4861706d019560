// Package session owns the device<->server login session wire contract.
//
// Ownership boundary:
// - login/logout/heartbeat message shapes and result codes
// - frame encode/decode for those messages
// - pending transaction bookkeeping
// - timeout/retry/backoff and transport security policy
package session
