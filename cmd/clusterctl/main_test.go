package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/config"
	"github.com/danmuck/clusterctl/internal/sim"
	"github.com/danmuck/clusterctl/internal/testutil/testlog"
)

// startSim runs a simulated device and returns it with a controller config
// pointing at it.
func startSim(t *testing.T, failCommands ...string) (*sim.Server, string) {
	t.Helper()
	s, err := sim.NewServer(config.DeviceConfig{
		Name:         "lamp",
		NodeID:       0x2222,
		Listen:       "127.0.0.1:0",
		FailCommands: failCommands,
		Endpoints: []config.EndpointConfig{
			{ID: 1, Clusters: []string{config.ClusterOnOff, config.ClusterLevelControl, config.ClusterIdentify}},
		},
	}, nil)
	if err != nil {
		t.Fatalf("new sim: %v", err)
	}
	ln, err := s.Listen()
	if err != nil {
		t.Fatalf("sim listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, writeSimConfig(t, ln.Addr().String())
}

func writeSimConfig(t *testing.T, addr string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := fmt.Sprintf(`local_node_id = 0x1111
session_poll_interval = "20ms"
session_poll_iterations = 100
response_timeout = "3s"
exchange_timeout = "2s"

[session]
max_connect_attempts = 1

[[devices]]
node_id = 0x2222
address = %q
`, addr)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestOnOffAgainstSimulator(t *testing.T) {
	testlog.Start(t)
	s, cfgPath := startSim(t)
	metrics := filepath.Join(t.TempDir(), "clusterctl.prom")

	code, out, errOut := run(t, "--config", cfgPath, "--metrics-textfile", metrics, "onoff", "on", "0x2222", "1")
	if code != command.ExitOK {
		t.Fatalf("expected exit 0, got %d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, "ok cluster=0x0006 command=0x01 endpoint=1") {
		t.Fatalf("unexpected stdout %q", out)
	}
	if got := s.Device().Snapshot()[0].Clusters[config.ClusterOnOff]["on"]; got != true {
		t.Fatalf("expected lamp on, got %v", got)
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics textfile: %v", err)
	}
	if !strings.Contains(string(data), "clusterctl_command_runs_total") {
		t.Fatalf("metrics textfile missing command runs")
	}
}

func TestInvokeWithArgs(t *testing.T) {
	testlog.Start(t)
	s, cfgPath := startSim(t)

	code, _, errOut := run(t, "--config", cfgPath, "invoke", "0x2222",
		"--endpoint", "1", "--cluster", "0x0008", "--command", "0", "--arg", "level=33")
	if code != command.ExitOK {
		t.Fatalf("expected exit 0, got %d stderr=%q", code, errOut)
	}
	if got := s.Device().Snapshot()[0].Clusters[config.ClusterLevelControl]["current_level"]; got != uint8(33) {
		t.Fatalf("expected level 33, got %v", got)
	}
}

func TestLevelAndIdentifySubcommands(t *testing.T) {
	testlog.Start(t)
	_, cfgPath := startSim(t)
	if code, _, errOut := run(t, "--config", cfgPath, "levelcontrol", "move-to-level", "0x2222", "1", "200"); code != command.ExitOK {
		t.Fatalf("move-to-level exit %d stderr=%q", code, errOut)
	}
	if code, _, errOut := run(t, "--config", cfgPath, "identify", "identify", "0x2222", "1", "3"); code != command.ExitOK {
		t.Fatalf("identify exit %d stderr=%q", code, errOut)
	}
}

func TestExitCodes(t *testing.T) {
	testlog.Start(t)
	_, cfgPath := startSim(t, "0x0006:0x02")

	if code, _, _ := run(t, "--config", cfgPath, "onoff", "toggle", "0x2222", "1"); code != command.ExitFailure {
		t.Fatalf("injected failure: expected exit %d, got %d", command.ExitFailure, code)
	}
	if code, _, _ := run(t, "--config", cfgPath, "onoff", "on", "0x9999", "1"); code != command.ExitDeviceNotFound {
		t.Fatalf("unknown device: expected exit %d, got %d", command.ExitDeviceNotFound, code)
	}
	if code, _, _ := run(t, "--config", cfgPath, "onoff", "on", "0x2222"); code != command.ExitFailure {
		t.Fatalf("usage error: expected exit %d, got %d", command.ExitFailure, code)
	}
	if code, _, _ := run(t, "--config", cfgPath, "levelcontrol", "move-to-level", "0x2222", "1", "999"); code != command.ExitFailure {
		t.Fatalf("level out of range: expected exit %d, got %d", command.ExitFailure, code)
	}
	if code, _, _ := run(t, "--config", filepath.Join(t.TempDir(), "none.toml"), "devices"); code != command.ExitFailure {
		t.Fatalf("missing config: expected exit %d, got %d", command.ExitFailure, code)
	}
}

func TestLocalNodeIDOverride(t *testing.T) {
	testlog.Start(t)
	_, cfgPath := startSim(t)
	// a session whose local and remote ids match is never established
	code, _, _ := run(t, "--config", cfgPath, "--local-node-id", "0x2222", "onoff", "on", "0x2222", "1")
	if code != command.ExitSessionTimeout {
		t.Fatalf("expected exit %d, got %d", command.ExitSessionTimeout, code)
	}
	if code, _, _ := run(t, "--config", cfgPath, "--local-node-id", "zero", "devices"); code != command.ExitFailure {
		t.Fatalf("bad override: expected exit %d, got %d", command.ExitFailure, code)
	}
}

func TestDevicesListsConfig(t *testing.T) {
	testlog.Start(t)
	code, out, errOut := run(t, "--config", "ex.config.toml", "devices")
	if code != command.ExitOK {
		t.Fatalf("devices exit %d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, "0x0000000000002222") || !strings.Contains(out, "kitchen-light") {
		t.Fatalf("unexpected devices output:\n%s", out)
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	testlog.Start(t)
	oldArgs, oldExit := os.Args, exitFunc
	t.Cleanup(func() {
		os.Args = oldArgs
		exitFunc = oldExit
	})
	var got = -1
	exitFunc = func(code int) { got = code }
	os.Args = []string{"clusterctl", "--config", filepath.Join(t.TempDir(), "none.toml"), "devices"}

	main()
	if got != command.ExitFailure {
		t.Fatalf("expected exit %d, got %d", command.ExitFailure, got)
	}
}

func TestParseArgs(t *testing.T) {
	testlog.Start(t)
	args, err := parseArgs([]string{"level=10", "delta=-3", "fast=true", "name=lamp"})
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if args["level"] != uint64(10) || args["delta"] != int64(-3) || args["fast"] != true || args["name"] != "lamp" {
		t.Fatalf("unexpected args: %#v", args)
	}
	if _, err := parseArgs([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}
}
