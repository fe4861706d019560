package session

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/devsession/internal/protocol/frame"
	"github.com/danmuck/devsession/internal/protocol/schema"
	"github.com/danmuck/devsession/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 1, rng)
	if got < 125*time.Millisecond || got > 375*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{LoginTimeout: 3 * time.Second}.WithDefaults()
	if cfg.LoginTimeout != 3*time.Second {
		t.Fatalf("explicit login timeout overwritten: %v", cfg.LoginTimeout)
	}
	def := DefaultConfig()
	if cfg.TickInterval != def.TickInterval || cfg.TransactionTimeout != def.TransactionTimeout {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.SecurityMode != SecurityModeDevelopment {
		t.Fatalf("unexpected security mode: %q", cfg.SecurityMode)
	}
	if cfg.ReadTimeout < 2*cfg.HeartbeatInterval {
		t.Fatalf("read timeout %v below two heartbeat intervals", cfg.ReadTimeout)
	}
}

func TestValidDevURI(t *testing.T) {
	testlog.Start(t)
	valid := []string{"dev://A", "sip:1234@cms.local", "dev://cam-01.site:5060/unit"}
	invalid := []string{"", "A", "dev://", "://A", " dev://A", "dev://A B", "dev://A\n", "dev:"}
	for _, raw := range valid {
		if !ValidDevURI(raw) {
			t.Fatalf("expected %q to be valid", raw)
		}
	}
	for _, raw := range invalid {
		if ValidDevURI(raw) {
			t.Fatalf("expected %q to be invalid", raw)
		}
	}
}

func TestLoginRequestFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	trans, err := NewTransID(time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("trans id: %v", err)
	}
	payload, err := EncodeFrame(Envelope{
		MessageID: 7,
		TransID:   trans,
		Message:   LoginRequest{DevURI: "dev://A", DevType: "cam", DevAddrs: []string{"10.0.0.7:5060"}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := ReadEnvelope(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	req, ok := env.Message.(LoginRequest)
	if !ok {
		t.Fatalf("unexpected message type %T", env.Message)
	}
	if env.TransID != trans || env.MessageID != 7 || env.Response {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if req.DevURI != "dev://A" || req.DevType != "cam" || len(req.DevAddrs) != 1 || req.DevAddrs[0] != "10.0.0.7:5060" {
		t.Fatalf("unexpected login request: %+v", req)
	}
}

func TestResponseFramesCarryFlagAndCode(t *testing.T) {
	testlog.Start(t)
	payload, err := EncodeFrame(Envelope{
		TransID:  "trans-1",
		Response: true,
		Message:  LoginResponse{ErrorCode: CodeAlreadyConnected, Session: "dev://A"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fr, err := frame.ReadFrame(bytes.NewReader(payload), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if fr.Header.MessageType != schema.MsgLoginResponse || !fr.Header.IsResponse() {
		t.Fatalf("unexpected header: %+v", fr.Header)
	}
	env, err := DecodeFrame(fr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rsp := env.Message.(LoginResponse)
	if rsp.ErrorCode != CodeAlreadyConnected || rsp.Session != "dev://A" {
		t.Fatalf("unexpected login response: %+v", rsp)
	}
	if rsp.ErrorCode.String() != "already_connected" {
		t.Fatalf("unexpected code name: %q", rsp.ErrorCode)
	}
}

func TestEncodeFrameRequiresTransID(t *testing.T) {
	testlog.Start(t)
	_, err := EncodeFrame(Envelope{Message: HeartbeatRequest{}})
	if !errors.Is(err, ErrMissingTransID) {
		t.Fatalf("expected ErrMissingTransID, got %v", err)
	}
}

func TestPendingTableLifecycle(t *testing.T) {
	testlog.Start(t)
	tbl := NewPendingTable()
	now := time.Unix(1700000000, 0)
	tbl.Add(Pending{TransID: "t1", Owner: 1, Peer: "a", Deadline: now.Add(time.Second)})
	tbl.Add(Pending{TransID: "t2", Owner: 2, Peer: "b", Deadline: now.Add(5 * time.Second)})
	tbl.Add(Pending{TransID: "t3", Owner: 3, Peer: "a", Deadline: now.Add(5 * time.Second)})

	expired := tbl.Expired(now.Add(2 * time.Second))
	if len(expired) != 1 || expired[0].TransID != "t1" {
		t.Fatalf("unexpected expired set: %+v", expired)
	}
	dropped := tbl.DropPeer("a")
	if len(dropped) != 1 || dropped[0].TransID != "t3" {
		t.Fatalf("unexpected dropped set: %+v", dropped)
	}
	p, ok := tbl.Take("t2")
	if !ok || p.Owner != 2 {
		t.Fatalf("take t2: ok=%v p=%+v", ok, p)
	}
	if _, ok := tbl.Take("t2"); ok {
		t.Fatalf("t2 should be gone after take")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table, got %d", tbl.Len())
	}
}

func TestValidateClientTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerTransportRejectsUnknownMode(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = "staging"
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}
