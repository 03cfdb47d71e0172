package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/clusterctl/internal/controller"
	"github.com/danmuck/clusterctl/internal/device"
	"github.com/danmuck/clusterctl/internal/protocol/session"
)

type fileConfig struct {
	LocalNodeID           uint64       `toml:"local_node_id"`
	SessionPollInterval   string       `toml:"session_poll_interval"`
	SessionPollIterations int          `toml:"session_poll_iterations"`
	ResponseTimeout       string       `toml:"response_timeout"`
	ExchangeTimeout       string       `toml:"exchange_timeout"`
	Session               fileSession  `toml:"session"`
	Devices               []fileDevice `toml:"devices"`
}

type fileSession struct {
	ConnectTimeout     string  `toml:"connect_timeout"`
	HandshakeTimeout   string  `toml:"handshake_timeout"`
	ReadTimeout        string  `toml:"read_timeout"`
	WriteTimeout       string  `toml:"write_timeout"`
	MaxConnectAttempts int     `toml:"max_connect_attempts"`
	SecurityMode       string  `toml:"security_mode"`
	TLS                fileTLS `toml:"tls"`
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileDevice struct {
	NodeID       uint64 `toml:"node_id"`
	Address      string `toml:"address"`
	PeerIdentity string `toml:"peer_identity"`
}

func defaultConfigPath() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return filepath.Join(dir, "clusterctl", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "clusterctl", "config.toml")
	}
	return filepath.Join(home, ".config", "clusterctl", "config.toml")
}

func loadControllerConfig(path string) (controller.Config, error) {
	cfg := controller.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return controller.Config{}, fmt.Errorf("load clusterctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return controller.Config{}, fmt.Errorf("load clusterctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("local_node_id") {
		cfg.LocalNodeID = raw.LocalNodeID
	}
	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"session_poll_interval"}, raw.SessionPollInterval, &cfg.Runner.SessionPollInterval},
		{[]string{"response_timeout"}, raw.ResponseTimeout, &cfg.Runner.ResponseTimeout},
		{[]string{"exchange_timeout"}, raw.ExchangeTimeout, &cfg.ExchangeTimeout},
		{[]string{"session", "connect_timeout"}, raw.Session.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{[]string{"session", "handshake_timeout"}, raw.Session.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{[]string{"session", "read_timeout"}, raw.Session.ReadTimeout, &cfg.Session.ReadTimeout},
		{[]string{"session", "write_timeout"}, raw.Session.WriteTimeout, &cfg.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return controller.Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session_poll_iterations") {
		cfg.Runner.SessionPollIterations = raw.SessionPollIterations
	}
	if meta.IsDefined("session", "max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.Session.MaxConnectAttempts
	}
	if meta.IsDefined("session", "security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.Session.SecurityMode))
	}
	if meta.IsDefined("session", "tls") {
		cfg.Session.TLS = session.TLSConfig{
			Enabled:            raw.Session.TLS.Enabled,
			Mutual:             raw.Session.TLS.Mutual,
			CertFile:           strings.TrimSpace(raw.Session.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.Session.TLS.KeyFile),
			CAFile:             strings.TrimSpace(raw.Session.TLS.CAFile),
			ServerName:         strings.TrimSpace(raw.Session.TLS.ServerName),
			InsecureSkipVerify: raw.Session.TLS.InsecureSkipVerify,
		}
	}

	cfg.Devices = make([]device.Entry, 0, len(raw.Devices))
	for _, d := range raw.Devices {
		cfg.Devices = append(cfg.Devices, device.Entry{
			NodeID:       d.NodeID,
			Address:      d.Address,
			PeerIdentity: d.PeerIdentity,
		})
	}
	return cfg, nil
}
