package session

import "time"

// SecurityMode selects the transport security policy.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig holds certificate material for session transport.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines login/transport timing and security.
type Config struct {
	// LoginTimeout bounds both the login wait and the logout wait. A login
	// that sees no response within it is reissued; a logout is forced.
	LoginTimeout time.Duration
	// TickInterval is the scheduler poll period used to evaluate timeouts.
	TickInterval time.Duration

	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	TransactionTimeout time.Duration
	HeartbeatInterval  time.Duration
	SessionDeadAfter   time.Duration
	MaxDialAttempts    int
	Backoff            BackoffConfig
	SecurityMode       SecurityMode
	TLS                TLSConfig
}

func DefaultConfig() Config {
	return Config{
		LoginTimeout:       10 * time.Second,
		TickInterval:       time.Second,
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       10 * time.Second,
		TransactionTimeout: 5 * time.Second,
		HeartbeatInterval:  5 * time.Second,
		SessionDeadAfter:   15 * time.Second,
		MaxDialAttempts:    3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills every zero-valued duration from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.LoginTimeout, d.LoginTimeout)
	fill(&c.TickInterval, d.TickInterval)
	fill(&c.ConnectTimeout, d.ConnectTimeout)
	fill(&c.HandshakeTimeout, d.HandshakeTimeout)
	fill(&c.ReadTimeout, d.ReadTimeout)
	fill(&c.WriteTimeout, d.WriteTimeout)
	fill(&c.TransactionTimeout, d.TransactionTimeout)
	fill(&c.HeartbeatInterval, d.HeartbeatInterval)
	fill(&c.SessionDeadAfter, d.SessionDeadAfter)
	if c.MaxDialAttempts <= 0 {
		c.MaxDialAttempts = d.MaxDialAttempts
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	// A read deadline shorter than the probe period would drop healthy peers.
	if c.ReadTimeout < 2*c.HeartbeatInterval {
		c.ReadTimeout = 2 * c.HeartbeatInterval
	}
	return c
}
