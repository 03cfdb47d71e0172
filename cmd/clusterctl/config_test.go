package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/clusterctl/internal/testutil/testlog"
)

func TestLoadControllerConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadControllerConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LocalNodeID != 0x1111 {
		t.Fatalf("unexpected local node: 0x%X", cfg.LocalNodeID)
	}
	if cfg.Runner.SessionPollInterval != time.Second || cfg.Runner.SessionPollIterations != 5 {
		t.Fatalf("unexpected poll settings: %+v", cfg.Runner)
	}
	if cfg.Runner.ResponseTimeout != 10*time.Second || cfg.ExchangeTimeout != 8*time.Second {
		t.Fatalf("unexpected timeouts: runner=%s exchange=%s", cfg.Runner.ResponseTimeout, cfg.ExchangeTimeout)
	}
	if cfg.Session.ConnectTimeout != 2*time.Second || cfg.Session.MaxConnectAttempts != 3 {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Session.SecurityMode != "development" || cfg.Session.TLS.Enabled {
		t.Fatalf("unexpected transport: mode=%q tls=%+v", cfg.Session.SecurityMode, cfg.Session.TLS)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("unexpected devices: %+v", cfg.Devices)
	}
	if cfg.Devices[0].NodeID != 0x2222 || cfg.Devices[0].PeerIdentity != "kitchen-light" {
		t.Fatalf("unexpected first device: %+v", cfg.Devices[0])
	}
}

func TestLoadControllerConfigKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeControllerConfig(t, "local_node_id = 42\nresponse_timeout = \"3s\"\n")
	cfg, err := loadControllerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LocalNodeID != 42 || cfg.Runner.ResponseTimeout != 3*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Runner.SessionPollInterval != time.Second || cfg.Runner.SessionPollIterations != 5 {
		t.Fatalf("poll defaults lost: %+v", cfg.Runner)
	}
	if cfg.ExchangeTimeout != 8*time.Second {
		t.Fatalf("exchange default lost: %s", cfg.ExchangeTimeout)
	}
	if len(cfg.Devices) != 0 {
		t.Fatalf("expected no devices, got %+v", cfg.Devices)
	}
}

func TestLoadControllerConfigErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration": "exchange_timeout = \"eventually\"\n",
		"unknown key":  "local_node_id = 1\nfavourite_colour = \"blue\"\n",
		"bad toml":     "local_node_id = \n",
	}
	for name, body := range cases {
		if _, err := loadControllerConfig(writeControllerConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadControllerConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaultConfigPathUsesXDG(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	want := filepath.Join(dir, "clusterctl", "config.toml")
	if got := defaultConfigPath(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	t.Setenv("XDG_CONFIG_HOME", "")
	if got := defaultConfigPath(); !strings.HasSuffix(got, filepath.Join(".config", "clusterctl", "config.toml")) {
		t.Fatalf("unexpected fallback path %q", got)
	}
}

func writeControllerConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
