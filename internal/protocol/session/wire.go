package session

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/devsession/internal/protocol/frame"
	"github.com/danmuck/devsession/internal/protocol/schema"
	"github.com/danmuck/devsession/internal/protocol/tlv"
	"github.com/oklog/ulid/v2"
)

var (
	ErrMissingTransID     = errors.New("session: missing trans_id")
	ErrUnknownMessageType = errors.New("session: unknown message type")
)

// Envelope is one message plus the transport correlation that carried it.
type Envelope struct {
	MessageID uint64
	TransID   string
	Response  bool
	Message   Message
}

// NewTransID returns a ULID transaction id; ids sort by creation time.
func NewTransID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// EncodeFrame serializes env into one wire frame.
func EncodeFrame(env Envelope) ([]byte, error) {
	if strings.TrimSpace(env.TransID) == "" {
		return nil, ErrMissingTransID
	}
	if env.Message == nil {
		return nil, fmt.Errorf("%w: nil message", ErrUnknownMessageType)
	}
	fields := []tlv.Field{tlv.String(schema.FieldTransID, env.TransID)}
	switch m := env.Message.(type) {
	case LoginRequest:
		fields = append(fields,
			tlv.String(schema.FieldDevURI, m.DevURI),
			tlv.String(schema.FieldDevType, m.DevType),
			tlv.Strings(schema.FieldDevAddrs, m.DevAddrs),
		)
	case LoginResponse:
		fields = append(fields,
			tlv.U32(schema.FieldErrorCode, uint32(m.ErrorCode)),
			tlv.String(schema.FieldSession, m.Session),
		)
	case LogoutRequest:
		fields = append(fields,
			tlv.String(schema.FieldSession, m.Session),
			tlv.String(schema.FieldDevURI, m.DevURI),
		)
	case LogoutResponse:
		fields = append(fields, tlv.U32(schema.FieldErrorCode, uint32(m.ErrorCode)))
	case HeartbeatRequest, HeartbeatResponse:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, env.Message)
	}

	msgType := env.Message.MessageType()
	if err := schema.Validate(msgType, fields); err != nil {
		return nil, err
	}
	var flags uint32
	if env.Response {
		flags |= frame.FlagIsResponse
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   env.MessageID,
			MessageType: msgType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses and schema-validates one frame.
func DecodeFrame(f frame.Frame) (Envelope, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Envelope{}, err
	}
	msgType := f.Header.MessageType
	if err := schema.Validate(msgType, fields); err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		MessageID: f.Header.MessageID,
		Response:  f.Header.IsResponse(),
	}
	if env.TransID, err = stringField(fields, schema.FieldTransID); err != nil {
		return Envelope{}, err
	}
	if strings.TrimSpace(env.TransID) == "" {
		return Envelope{}, ErrMissingTransID
	}

	switch msgType {
	case schema.MsgLoginRequest:
		var m LoginRequest
		if m.DevURI, err = stringField(fields, schema.FieldDevURI); err != nil {
			return Envelope{}, err
		}
		if m.DevType, err = stringField(fields, schema.FieldDevType); err != nil {
			return Envelope{}, err
		}
		f, _ := tlv.GetField(fields, schema.FieldDevAddrs)
		if m.DevAddrs, err = f.AsStrings(); err != nil {
			return Envelope{}, err
		}
		env.Message = m
	case schema.MsgLoginResponse:
		var m LoginResponse
		code, err := codeField(fields)
		if err != nil {
			return Envelope{}, err
		}
		m.ErrorCode = code
		if m.Session, err = stringField(fields, schema.FieldSession); err != nil {
			return Envelope{}, err
		}
		env.Message = m
	case schema.MsgLogoutRequest:
		var m LogoutRequest
		if m.Session, err = stringField(fields, schema.FieldSession); err != nil {
			return Envelope{}, err
		}
		if m.DevURI, err = stringField(fields, schema.FieldDevURI); err != nil {
			return Envelope{}, err
		}
		env.Message = m
	case schema.MsgLogoutResponse:
		code, err := codeField(fields)
		if err != nil {
			return Envelope{}, err
		}
		env.Message = LogoutResponse{ErrorCode: code}
	case schema.MsgHeartbeatRequest:
		env.Message = HeartbeatRequest{}
	case schema.MsgHeartbeatResponse:
		env.Message = HeartbeatResponse{}
	default:
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownMessageType, msgType)
	}
	return env, nil
}

// ReadEnvelope reads and decodes the next frame from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	f, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		return Envelope{}, err
	}
	return DecodeFrame(f)
}

func stringField(fields []tlv.Field, id uint16) (string, error) {
	f, _ := tlv.GetField(fields, id)
	return f.AsString()
}

func codeField(fields []tlv.Field) (Code, error) {
	f, _ := tlv.GetField(fields, schema.FieldErrorCode)
	v, err := f.AsU32()
	return Code(v), err
}
