package schema

import (
	"fmt"

	"github.com/danmuck/devsession/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs.
const (
	MsgLoginRequest      uint32 = 1
	MsgLoginResponse     uint32 = 2
	MsgLogoutRequest     uint32 = 3
	MsgLogoutResponse    uint32 = 4
	MsgHeartbeatRequest  uint32 = 5
	MsgHeartbeatResponse uint32 = 6
)

// Field IDs.
const (
	FieldTransID uint16 = 1

	FieldDevURI   uint16 = 100
	FieldDevType  uint16 = 101
	FieldDevAddrs uint16 = 102

	FieldSession   uint16 = 200
	FieldErrorCode uint16 = 201
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgLoginRequest: {
		{FieldTransID, tlv.TypeString},
		{FieldDevURI, tlv.TypeString},
		{FieldDevType, tlv.TypeString},
		{FieldDevAddrs, tlv.TypeStrings},
	},
	MsgLoginResponse: {
		{FieldTransID, tlv.TypeString},
		{FieldErrorCode, tlv.TypeU32},
		{FieldSession, tlv.TypeString},
	},
	MsgLogoutRequest: {
		{FieldTransID, tlv.TypeString},
		{FieldSession, tlv.TypeString},
		{FieldDevURI, tlv.TypeString},
	},
	MsgLogoutResponse: {
		{FieldTransID, tlv.TypeString},
		{FieldErrorCode, tlv.TypeU32},
	},
	MsgHeartbeatRequest: {
		{FieldTransID, tlv.TypeString},
	},
	MsgHeartbeatResponse: {
		{FieldTransID, tlv.TypeString},
	},
}

var names = map[uint32]string{
	MsgLoginRequest:      "login.req",
	MsgLoginResponse:     "login.rsp",
	MsgLogoutRequest:     "logout.req",
	MsgLogoutResponse:    "logout.rsp",
	MsgHeartbeatRequest:  "heartbeat.req",
	MsgHeartbeatResponse: "heartbeat.rsp",
}

// Name returns the short wire name of a message type.
func Name(messageType uint32) string {
	if n, ok := names[messageType]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", messageType)
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Warn().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Str("message", Name(messageType)).Int("fields", len(fields)).Msg("schema.Validate ok")
	return nil
}
