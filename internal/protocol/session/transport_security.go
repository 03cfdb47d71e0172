package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrMTLSRequired            = errors.New("session: mtls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSCAFileRequired       = errors.New("session: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ValidateClientTransport checks the controller side. Production requires
// mutual TLS with verification on.
func (c Config) ValidateClientTransport() error {
	mode, err := c.checkMode()
	if err != nil {
		return err
	}
	if mode == SecurityModeProduction && c.TLS.InsecureSkipVerify {
		return ErrTLSInsecureSkipNotAllow
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.CAFile) == "" && !c.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if c.TLS.Mutual {
		return c.requireKeyPair()
	}
	return nil
}

// ValidateServerTransport checks the device side. Any TLS listener needs a
// key pair; client verification needs a CA bundle.
func (c Config) ValidateServerTransport() error {
	if _, err := c.checkMode(); err != nil {
		return err
	}
	if c.TLS.Enabled {
		if err := c.requireKeyPair(); err != nil {
			return err
		}
	}
	if c.TLS.Mutual && strings.TrimSpace(c.TLS.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

func (c Config) checkMode() (SecurityMode, error) {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	if mode == SecurityModeProduction {
		if !c.TLS.Enabled {
			return mode, ErrTLSRequired
		}
		if !c.TLS.Mutual {
			return mode, ErrMTLSRequired
		}
	}
	if c.TLS.Mutual && !c.TLS.Enabled {
		return mode, ErrTLSRequired
	}
	return mode, nil
}

func (c Config) requireKeyPair() error {
	if strings.TrimSpace(c.TLS.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.TLS.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	return nil
}
