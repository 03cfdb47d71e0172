package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/controller"
	"github.com/danmuck/clusterctl/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var Version = "0.1.0"

type rootOptions struct {
	configPath      string
	localNodeID     string
	metricsTextfile string
	out             io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}
	root := &cobra.Command{
		Use:           "clusterctl",
		Short:         "Send cluster commands to paired devices",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addRootFlags(root.PersistentFlags(), opts)

	root.AddCommand(
		newInvokeCmd(opts),
		newOnOffCmd(opts),
		newLevelControlCmd(opts),
		newIdentifyCmd(opts),
		newDevicesCmd(opts),
	)
	return root
}

func addRootFlags(fs *pflag.FlagSet, opts *rootOptions) {
	fs.StringVar(&opts.configPath, "config", defaultConfigPath(), "controller config file")
	fs.StringVar(&opts.localNodeID, "local-node-id", "", "override local_node_id from config")
	fs.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "write prometheus metrics to this file after the run")
}

// loadConfig reads the config file and applies flag overrides.
func (o *rootOptions) loadConfig() (controller.Config, error) {
	cfg, err := loadControllerConfig(o.configPath)
	if err != nil {
		return controller.Config{}, err
	}
	if strings.TrimSpace(o.localNodeID) != "" {
		id, err := parseNodeID(o.localNodeID)
		if err != nil {
			return controller.Config{}, fmt.Errorf("--local-node-id: %w", err)
		}
		cfg.LocalNodeID = id
	}
	return cfg, nil
}

// runCommand performs one invocation against remote and logs the outcome.
func (o *rootOptions) runCommand(remote string, cmd command.Command) error {
	remoteNodeID, err := parseNodeID(remote)
	if err != nil {
		return fmt.Errorf("remote node id: %w", err)
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	cfg.Observer = observability.CommandObserver{}

	ctl, err := controller.New(cfg)
	if err != nil {
		return err
	}
	start := time.Now()
	runErr := ctl.Invoke(remoteNodeID, cmd)
	ctl.Close()

	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr)
	}
	event.
		Str("local_node", command.FormatNodeID(cfg.LocalNodeID)).
		Str("remote_node", command.FormatNodeID(remoteNodeID)).
		Str("command", cmd.String()).
		Str("outcome", command.Describe(runErr)).
		Int("exit_code", command.ExitCode(runErr)).
		Dur("elapsed", time.Since(start)).
		Msg("clusterctl run finished")

	if path := strings.TrimSpace(o.metricsTextfile); path != "" {
		if err := observability.WriteTextfile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("clusterctl metrics textfile write failed")
		}
	}
	if runErr == nil {
		fmt.Fprintf(o.out, "ok %s on %s\n", cmd, command.FormatNodeID(remoteNodeID))
	}
	return runErr
}

// parseNodeID accepts decimal or 0x-prefixed hex.
func parseNodeID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 64)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("node id must be non-zero")
	}
	return id, nil
}

func parseUint(raw string, bits int, what string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return v, nil
}
