package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/danmuck/clusterctl/internal/config"
	"github.com/danmuck/clusterctl/internal/logging"
	"github.com/danmuck/clusterctl/internal/observability"
	"github.com/danmuck/clusterctl/internal/sim"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	listen     string
	adminAddr  string
	nodeID     string
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "devicesim: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "devicesim",
		Short:         "Run a simulated cluster device",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			observability.RegisterMetrics()
			srv, err := sim.NewServer(cfg, nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.configPath, "config", "cmd/devicesim/config.toml", "device config file")
	fs.StringVar(&opts.listen, "listen", "", "override listen address")
	fs.StringVar(&opts.adminAddr, "admin-addr", "", "override admin HTTP address")
	fs.StringVar(&opts.nodeID, "node-id", "", "override node_id")
	return cmd
}

func (o *options) load() (config.DeviceConfig, error) {
	cfg, err := config.LoadDeviceConfig(o.configPath)
	if err != nil {
		return config.DeviceConfig{}, err
	}
	if v := strings.TrimSpace(o.listen); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(o.adminAddr); v != "" {
		cfg.AdminAddr = v
	}
	if v := strings.TrimSpace(o.nodeID); v != "" {
		id, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return config.DeviceConfig{}, fmt.Errorf("--node-id: %w", err)
		}
		cfg.NodeID = id
	}
	return cfg, config.ValidateDeviceConfig(cfg)
}
