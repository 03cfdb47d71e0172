package session

import "time"

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// TLSConfig carries file-based TLS material for one side of a session.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	SecurityMode       SecurityMode
	TLS                TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     2 * time.Second,
		HandshakeTimeout:   3 * time.Second,
		ReadTimeout:        0,
		WriteTimeout:       5 * time.Second,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. ReadTimeout of
// zero means no idle deadline on the session read loop and is kept.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxConnectAttempts < 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
