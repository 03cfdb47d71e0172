package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/clusterctl/internal/command"
	"github.com/spf13/cobra"
)

func newInvokeCmd(opts *rootOptions) *cobra.Command {
	var (
		endpoint  uint16
		clusterID string
		commandID string
		rawArgs   []string
	)
	cmd := &cobra.Command{
		Use:   "invoke <remote-node-id>",
		Short: "Invoke an arbitrary cluster command",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cluster, err := parseUint(clusterID, 32, "--cluster")
			if err != nil {
				return err
			}
			commandNum, err := parseUint(commandID, 32, "--command")
			if err != nil {
				return err
			}
			values, err := parseArgs(rawArgs)
			if err != nil {
				return err
			}
			return opts.runCommand(args[0], command.Command{
				ClusterID:  uint32(cluster),
				CommandID:  uint32(commandNum),
				EndpointID: endpoint,
				Args:       values,
			})
		},
	}
	cmd.Flags().Uint16Var(&endpoint, "endpoint", 1, "target endpoint id")
	cmd.Flags().StringVar(&clusterID, "cluster", "", "cluster id (decimal or 0x hex)")
	cmd.Flags().StringVar(&commandID, "command", "", "command id (decimal or 0x hex)")
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "command argument key=value, repeatable")
	_ = cmd.MarkFlagRequired("cluster")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newOnOffCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onoff",
		Short: "OnOff cluster commands",
	}
	for name, id := range map[string]uint32{
		"off":    command.CommandOff,
		"on":     command.CommandOn,
		"toggle": command.CommandToggle,
	} {
		commandID := id
		cmd.AddCommand(&cobra.Command{
			Use:   name + " <remote-node-id> <endpoint>",
			Short: "Send OnOff " + name,
			Args:  cobra.ExactArgs(2),
			RunE: func(c *cobra.Command, args []string) error {
				endpoint, err := parseUint(args[1], 16, "endpoint")
				if err != nil {
					return err
				}
				return opts.runCommand(args[0], command.NewOnOff(uint16(endpoint), commandID))
			},
		})
	}
	return cmd
}

func newLevelControlCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "levelcontrol",
		Short: "LevelControl cluster commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "move-to-level <remote-node-id> <endpoint> <level>",
		Short: "Move to a level between 0 and 254",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			endpoint, err := parseUint(args[1], 16, "endpoint")
			if err != nil {
				return err
			}
			level, err := parseUint(args[2], 8, "level")
			if err != nil {
				return err
			}
			return opts.runCommand(args[0], command.NewMoveToLevel(uint16(endpoint), uint8(level)))
		},
	})
	return cmd
}

func newIdentifyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Identify cluster commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "identify <remote-node-id> <endpoint> <seconds>",
		Short: "Blink the device for a number of seconds",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			endpoint, err := parseUint(args[1], 16, "endpoint")
			if err != nil {
				return err
			}
			seconds, err := parseUint(args[2], 16, "seconds")
			if err != nil {
				return err
			}
			return opts.runCommand(args[0], command.NewIdentify(uint16(endpoint), uint16(seconds)))
		},
	})
	return cmd
}

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List paired devices from config",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NODE ID\tADDRESS\tPEER IDENTITY")
			for _, d := range cfg.Devices {
				peer := d.PeerIdentity
				if peer == "" {
					peer = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", command.FormatNodeID(d.NodeID), d.Address, peer)
			}
			return w.Flush()
		},
	}
}

// parseArgs turns key=value pairs into command args. Values that parse as
// unsigned integers, negative integers, or booleans keep that type; anything
// else is sent as a string.
func parseArgs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--arg %q: want key=value", pair)
		}
		value = strings.TrimSpace(value)
		if u, err := strconv.ParseUint(value, 0, 64); err == nil {
			out[key] = u
		} else if i, err := strconv.ParseInt(value, 0, 64); err == nil {
			out[key] = i
		} else if b, err := strconv.ParseBool(value); err == nil {
			out[key] = b
		} else {
			out[key] = value
		}
	}
	return out, nil
}
