package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/devsession/internal/protocol/session"
)

var ErrUnknownKind = errors.New("config: unknown kind")

// Kind names a config file layout.
type Kind string

const (
	KindServer Kind = "server"
	KindDevice Kind = "device"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindServer:
		return KindServer, nil
	case KindDevice:
		return KindDevice, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// SessionKeys is the flat session_* key set shared by every config file.
type SessionKeys struct {
	LoginTimeout       string `toml:"session_login_timeout"`
	TickInterval       string `toml:"session_tick_interval"`
	ConnectTimeout     string `toml:"session_connect_timeout"`
	TransactionTimeout string `toml:"session_transaction_timeout"`
	HeartbeatInterval  string `toml:"session_heartbeat_interval"`
	DeadAfter          string `toml:"session_dead_after"`
	MaxDialAttempts    int    `toml:"session_max_dial_attempts"`
	SecurityMode       string `toml:"session_security_mode"`
	TLSEnabled         bool   `toml:"session_tls_enabled"`
	TLSMutual          bool   `toml:"session_tls_mutual"`
	TLSCertFile        string `toml:"session_tls_cert_file,omitempty"`
	TLSKeyFile         string `toml:"session_tls_key_file,omitempty"`
	TLSCAFile          string `toml:"session_tls_ca_file,omitempty"`
	TLSServerName      string `toml:"session_tls_server_name,omitempty"`
}

type deviceEntry struct {
	DevURI   string   `toml:"dev_uri"`
	DevType  string   `toml:"dev_type"`
	DevAddrs []string `toml:"dev_addrs"`
}

func sessionKeysFrom(cfg session.Config) SessionKeys {
	return SessionKeys{
		LoginTimeout:       cfg.LoginTimeout.String(),
		TickInterval:       cfg.TickInterval.String(),
		ConnectTimeout:     cfg.ConnectTimeout.String(),
		TransactionTimeout: cfg.TransactionTimeout.String(),
		HeartbeatInterval:  cfg.HeartbeatInterval.String(),
		DeadAfter:          cfg.SessionDeadAfter.String(),
		MaxDialAttempts:    cfg.MaxDialAttempts,
		SecurityMode:       string(cfg.SecurityMode),
		TLSEnabled:         cfg.TLS.Enabled,
		TLSMutual:          cfg.TLS.Mutual,
		TLSCertFile:        cfg.TLS.CertFile,
		TLSKeyFile:         cfg.TLS.KeyFile,
		TLSCAFile:          cfg.TLS.CAFile,
		TLSServerName:      cfg.TLS.ServerName,
	}
}

// overlaySession copies every session_* key present in the file onto cfg.
func overlaySession(meta toml.MetaData, raw SessionKeys, cfg *session.Config) error {
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"session_login_timeout", raw.LoginTimeout, &cfg.LoginTimeout},
		{"session_tick_interval", raw.TickInterval, &cfg.TickInterval},
		{"session_connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"session_transaction_timeout", raw.TransactionTimeout, &cfg.TransactionTimeout},
		{"session_heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"session_dead_after", raw.DeadAfter, &cfg.SessionDeadAfter},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", d.key, v)
		}
		*d.dst = v
	}
	if meta.IsDefined("session_max_dial_attempts") {
		cfg.MaxDialAttempts = raw.MaxDialAttempts
	}
	if meta.IsDefined("session_security_mode") {
		cfg.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("session_tls_server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
