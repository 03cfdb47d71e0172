package sim

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/clusterctl/internal/codec"
	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/config"
)

var (
	ErrUnsupportedCommand = errors.New("sim: unsupported command")
	ErrInvalidArgs        = errors.New("sim: invalid command arguments")
)

const maxLevel = 254

// Cluster is one server cluster instance on an endpoint. Calls are
// serialised by the owning Device.
type Cluster interface {
	ID() uint32
	Name() string
	// Invoke applies one command. changed reports whether any attribute
	// moved, which triggers a status report.
	Invoke(commandID uint32, args map[string]any, now time.Time) (changed bool, err error)
	Attributes(now time.Time) map[string]any
}

func newCluster(name string) (Cluster, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case config.ClusterOnOff:
		return &onOff{}, nil
	case config.ClusterLevelControl:
		return &levelControl{level: maxLevel}, nil
	case config.ClusterIdentify:
		return &identify{}, nil
	default:
		return nil, fmt.Errorf("sim: unknown cluster %q", name)
	}
}

type onOff struct {
	on bool
}

func (c *onOff) ID() uint32   { return command.ClusterOnOff }
func (c *onOff) Name() string { return config.ClusterOnOff }

func (c *onOff) Invoke(commandID uint32, _ map[string]any, _ time.Time) (bool, error) {
	before := c.on
	switch commandID {
	case command.CommandOff:
		c.on = false
	case command.CommandOn:
		c.on = true
	case command.CommandToggle:
		c.on = !c.on
	default:
		return false, fmt.Errorf("%w: onoff 0x%02X", ErrUnsupportedCommand, commandID)
	}
	return c.on != before, nil
}

func (c *onOff) Attributes(time.Time) map[string]any {
	return map[string]any{"on": c.on}
}

type levelControl struct {
	level uint8
}

func (c *levelControl) ID() uint32   { return command.ClusterLevelControl }
func (c *levelControl) Name() string { return config.ClusterLevelControl }

func (c *levelControl) Invoke(commandID uint32, args map[string]any, _ time.Time) (bool, error) {
	if commandID != command.CommandMoveToLevel {
		return false, fmt.Errorf("%w: levelcontrol 0x%02X", ErrUnsupportedCommand, commandID)
	}
	level, ok, err := codec.Uint(args, command.ArgLevel)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidArgs, err)
	}
	if !ok {
		return false, fmt.Errorf("%w: missing %s", ErrInvalidArgs, command.ArgLevel)
	}
	if level > maxLevel {
		return false, fmt.Errorf("%w: %s=%d above %d", ErrInvalidArgs, command.ArgLevel, level, maxLevel)
	}
	before := c.level
	c.level = uint8(level)
	return c.level != before, nil
}

func (c *levelControl) Attributes(time.Time) map[string]any {
	return map[string]any{"current_level": c.level}
}

type identify struct {
	until time.Time
}

func (c *identify) ID() uint32   { return command.ClusterIdentify }
func (c *identify) Name() string { return config.ClusterIdentify }

func (c *identify) Invoke(commandID uint32, args map[string]any, now time.Time) (bool, error) {
	if commandID != command.CommandIdentify {
		return false, fmt.Errorf("%w: identify 0x%02X", ErrUnsupportedCommand, commandID)
	}
	seconds, ok, err := codec.Uint(args, command.ArgSeconds)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidArgs, err)
	}
	if !ok {
		return false, fmt.Errorf("%w: missing %s", ErrInvalidArgs, command.ArgSeconds)
	}
	if seconds > 0xFFFF {
		return false, fmt.Errorf("%w: %s=%d out of range", ErrInvalidArgs, command.ArgSeconds, seconds)
	}
	c.until = now.Add(time.Duration(seconds) * time.Second)
	return true, nil
}

func (c *identify) Attributes(now time.Time) map[string]any {
	remaining := uint64(0)
	if c.until.After(now) {
		remaining = uint64(c.until.Sub(now).Round(time.Second) / time.Second)
	}
	return map[string]any{"identify_time": remaining}
}
