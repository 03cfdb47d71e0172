package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/clusterctl/internal/protocol/session"
)

// CommandRef names one command of one cluster.
type CommandRef struct {
	ClusterID uint32
	CommandID uint32
}

type Delays struct {
	Handshake time.Duration
	Response  time.Duration
}

func (cfg DeviceConfig) Delays() (Delays, error) {
	handshake, err := parseDuration("handshake_delay", cfg.HandshakeDelay)
	if err != nil {
		return Delays{}, err
	}
	response, err := parseDuration("response_delay", cfg.ResponseDelay)
	if err != nil {
		return Delays{}, err
	}
	return Delays{Handshake: handshake, Response: response}, nil
}

// FailSet parses fail_commands into a lookup set.
func (cfg DeviceConfig) FailSet() (map[CommandRef]struct{}, error) {
	out := make(map[CommandRef]struct{}, len(cfg.FailCommands))
	for _, raw := range cfg.FailCommands {
		ref, err := ParseCommandRef(raw)
		if err != nil {
			return nil, err
		}
		out[ref] = struct{}{}
	}
	return out, nil
}

// ParseCommandRef parses "cluster:command"; each half accepts Go integer
// literal syntax.
func ParseCommandRef(raw string) (CommandRef, error) {
	clusterRaw, commandRaw, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return CommandRef{}, fmt.Errorf("fail_commands entry %q: want cluster:command", raw)
	}
	clusterID, err := strconv.ParseUint(strings.TrimSpace(clusterRaw), 0, 32)
	if err != nil {
		return CommandRef{}, fmt.Errorf("fail_commands entry %q: cluster: %w", raw, err)
	}
	commandID, err := strconv.ParseUint(strings.TrimSpace(commandRaw), 0, 32)
	if err != nil {
		return CommandRef{}, fmt.Errorf("fail_commands entry %q: command: %w", raw, err)
	}
	return CommandRef{ClusterID: uint32(clusterID), CommandID: uint32(commandID)}, nil
}

// SessionSettings maps the [session] table onto session.Config.
func (cfg DeviceConfig) SessionSettings() (session.Config, error) {
	out := session.DefaultConfig()
	var err error
	if out.HandshakeTimeout, err = parseDurationOr("session.handshake_timeout", cfg.Session.HandshakeTimeout, out.HandshakeTimeout); err != nil {
		return session.Config{}, err
	}
	if out.ReadTimeout, err = parseDurationOr("session.read_timeout", cfg.Session.ReadTimeout, out.ReadTimeout); err != nil {
		return session.Config{}, err
	}
	if out.WriteTimeout, err = parseDurationOr("session.write_timeout", cfg.Session.WriteTimeout, out.WriteTimeout); err != nil {
		return session.Config{}, err
	}
	out.SecurityMode = session.SecurityMode(cfg.Session.SecurityMode)
	out.TLS = session.TLSConfig{
		Enabled:  cfg.Session.TLS.Enabled,
		Mutual:   cfg.Session.TLS.Mutual,
		CertFile: cfg.Session.TLS.CertFile,
		KeyFile:  cfg.Session.TLS.KeyFile,
		CAFile:   cfg.Session.TLS.CAFile,
	}
	out = out.WithDefaults()
	if err := out.ValidateServerTransport(); err != nil {
		return session.Config{}, err
	}
	return out, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	return parseDurationOr(key, raw, 0)
}

func parseDurationOr(key, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
