package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/clusterctl/internal/protocol/session"
	"github.com/danmuck/clusterctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDeviceTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "device.toml")
	if err := WriteTemplate(path, "device", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadDeviceConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.NodeID != 0x2222 || cfg.Name != "kitchen-light" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if len(cfg.Endpoints) != 1 || len(cfg.Endpoints[0].Clusters) != 3 {
		t.Fatalf("unexpected endpoints: %+v", cfg.Endpoints)
	}
	sess, err := cfg.SessionSettings()
	if err != nil {
		t.Fatalf("session settings: %v", err)
	}
	if sess.HandshakeTimeout != 3*time.Second || sess.SecurityMode != session.SecurityModeDevelopment {
		t.Fatalf("unexpected session config: %+v", sess)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "device.toml")
	if err := WriteTemplate(path, "device", false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteTemplate(path, "device", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, "controller", true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	if _, err := Template("bogus"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadDeviceConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadDeviceConfig(writeConfig(t, "node_id = 7\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "devicesim" || cfg.Listen != ":5540" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].ID != 1 {
		t.Fatalf("default endpoint missing: %+v", cfg.Endpoints)
	}
}

func TestLoadDeviceConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"missing node":     `name = "x"`,
		"bad delay":        "node_id = 7\nresponse_delay = \"soon\"",
		"negative delay":   "node_id = 7\nhandshake_delay = \"-1s\"",
		"bad fail command": "node_id = 7\nfail_commands = [\"0x0006\"]",
		"unknown cluster":  "node_id = 7\n[[endpoints]]\nid = 1\nclusters = [\"thermostat\"]",
		"empty clusters":   "node_id = 7\n[[endpoints]]\nid = 1\nclusters = []",
		"duplicate endpoint": "node_id = 7\n[[endpoints]]\nid = 1\nclusters = [\"onoff\"]\n" +
			"[[endpoints]]\nid = 1\nclusters = [\"identify\"]",
		"production without tls": "node_id = 7\n[session]\nsecurity_mode = \"production\"",
	}
	for name, body := range cases {
		if _, err := LoadDeviceConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadDeviceConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil ||
		!strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load failure, got %v", err)
	}
}

func TestFailSetAndDelays(t *testing.T) {
	testlog.Start(t)
	cfg := DeviceConfig{
		FailCommands:   []string{"0x0006:0x01", " 8 : 0 "},
		HandshakeDelay: "150ms",
	}
	set, err := cfg.FailSet()
	if err != nil {
		t.Fatalf("fail set: %v", err)
	}
	if _, ok := set[CommandRef{ClusterID: 0x0006, CommandID: 0x01}]; !ok {
		t.Fatalf("onoff on missing from %v", set)
	}
	if _, ok := set[CommandRef{ClusterID: 0x0008, CommandID: 0x00}]; !ok {
		t.Fatalf("move-to-level missing from %v", set)
	}
	delays, err := cfg.Delays()
	if err != nil {
		t.Fatalf("delays: %v", err)
	}
	if delays.Handshake != 150*time.Millisecond || delays.Response != 0 {
		t.Fatalf("unexpected delays: %+v", delays)
	}
}
