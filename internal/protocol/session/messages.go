package session

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/danmuck/devsession/internal/protocol/schema"
)

// Code is the application result carried in login/logout responses.
type Code uint32

const (
	CodeSuccess          Code = 0
	CodeInvalidDevURI    Code = 1001
	CodeAlreadyConnected Code = 1002
	CodeSessionNotFound  Code = 1003
	CodeInvalidMessage   Code = 1004
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeInvalidDevURI:
		return "invalid_dev_uri"
	case CodeAlreadyConnected:
		return "already_connected"
	case CodeSessionNotFound:
		return "session_not_found"
	case CodeInvalidMessage:
		return "invalid_message"
	default:
		return fmt.Sprintf("code(%d)", uint32(c))
	}
}

// Transport-level status codes reported with a failed transaction.
const (
	StatusBadRequest  uint32 = 400
	StatusTimeout     uint32 = 408
	StatusUnavailable uint32 = 503
)

// Message is one typed payload of the session protocol.
type Message interface {
	MessageType() uint32
}

// LoginRequest is the device->server registration request.
type LoginRequest struct {
	DevURI   string
	DevType  string
	DevAddrs []string
}

// LoginResponse answers a LoginRequest. Session is set on success.
type LoginResponse struct {
	ErrorCode Code
	Session   string
}

// LogoutRequest is the device->server deregistration request.
type LogoutRequest struct {
	Session string
	DevURI  string
}

type LogoutResponse struct {
	ErrorCode Code
}

type HeartbeatRequest struct{}

type HeartbeatResponse struct{}

func (LoginRequest) MessageType() uint32      { return schema.MsgLoginRequest }
func (LoginResponse) MessageType() uint32     { return schema.MsgLoginResponse }
func (LogoutRequest) MessageType() uint32     { return schema.MsgLogoutRequest }
func (LogoutResponse) MessageType() uint32    { return schema.MsgLogoutResponse }
func (HeartbeatRequest) MessageType() uint32  { return schema.MsgHeartbeatRequest }
func (HeartbeatResponse) MessageType() uint32 { return schema.MsgHeartbeatResponse }

// ValidDevURI reports whether raw is a well-formed device identifier: an
// absolute URI with a scheme and a non-empty host or opaque part, free of
// whitespace and control characters.
func ValidDevURI(raw string) bool {
	if raw == "" || raw != strings.TrimSpace(raw) {
		return false
	}
	for _, r := range raw {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return false
	}
	if u.Opaque != "" {
		return true
	}
	return u.Host != "" && u.Hostname() != ""
}
