// Package protocol owns the device session wire contract.
//
// Ownership boundary:
// - frame: fixed header + auth + payload framing
// - tlv: payload field primitives
// - schema: message type ids, field ids, required-field table
// - session: typed login/logout/heartbeat messages, codecs, timeouts
package protocol
