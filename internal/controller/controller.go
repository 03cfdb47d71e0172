// Package controller assembles the controller-side stack: the stack guard
// and loop, the device session provider, the invoke dispatcher, and one
// command.Runner per invocation.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/clusterctl/internal/clock"
	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/device"
	"github.com/danmuck/clusterctl/internal/dispatch"
	"github.com/danmuck/clusterctl/internal/protocol/frame"
	"github.com/danmuck/clusterctl/internal/protocol/session"
	"github.com/danmuck/clusterctl/internal/stack"
	"github.com/rs/zerolog/log"
)

type Config struct {
	LocalNodeID     uint64
	Runner          command.Config
	ExchangeTimeout time.Duration
	Session         session.Config
	Devices         []device.Entry
	Clock           clock.Clock
	Observer        command.Observer
}

func DefaultConfig() Config {
	return Config{
		Runner:          command.DefaultConfig(),
		ExchangeTimeout: dispatch.DefaultConfig().ExchangeTimeout,
		Session:         session.DefaultConfig(),
	}
}

type Controller struct {
	cfg        Config
	guard      *stack.Guard
	loop       *stack.Loop
	fabric     *device.Fabric
	provider   *device.Provider
	dispatcher *dispatch.Dispatcher
	cancel     context.CancelFunc
}

func New(cfg Config) (*Controller, error) {
	if cfg.LocalNodeID == 0 {
		return nil, errors.New("controller: local node id required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	fabric, err := device.NewFabric(cfg.Devices)
	if err != nil {
		return nil, err
	}

	guard := stack.NewGuard()
	loop := stack.NewLoop(guard)
	disp, err := dispatch.New(dispatch.Config{
		LocalNodeID:     cfg.LocalNodeID,
		ExchangeTimeout: cfg.ExchangeTimeout,
		Clock:           cfg.Clock,
	}, loop)
	if err != nil {
		return nil, err
	}
	provider, err := device.NewProvider(device.Config{
		LocalNodeID: cfg.LocalNodeID,
		Session:     cfg.Session,
		Limits:      frame.DefaultLimits(),
		Clock:       cfg.Clock,
	}, fabric, loop, device.Handlers{
		OnFrame:      disp.Deliver,
		OnDisconnect: disp.FailNode,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	return &Controller{
		cfg:        cfg,
		guard:      guard,
		loop:       loop,
		fabric:     fabric,
		provider:   provider,
		dispatcher: disp,
		cancel:     cancel,
	}, nil
}

// Invoke runs cmd against remoteNodeID and returns the runner's error.
func (c *Controller) Invoke(remoteNodeID uint64, cmd command.Command) error {
	runner, err := command.NewRunner(c.cfg.Runner, command.Deps{
		Guard:      c.guard,
		Provider:   c.provider,
		Dispatcher: c.dispatcher,
		Clock:      c.cfg.Clock,
		Observer:   c.cfg.Observer,
	}, cmd)
	if err != nil {
		return err
	}
	return runner.Run(c.cfg.LocalNodeID, remoteNodeID)
}

func (c *Controller) Devices() []device.Entry { return c.fabric.List() }

func (c *Controller) Pending() []dispatch.PendingInfo { return c.dispatcher.Pending() }

// SessionState reports the session state of a paired device, NotConnected
// when no session was ever attempted.
func (c *Controller) SessionState(nodeID uint64) (device.SessionState, error) {
	if _, ok := c.fabric.Lookup(nodeID); !ok {
		return device.NotConnected, fmt.Errorf("%w: %s", device.ErrUnknownDevice, command.FormatNodeID(nodeID))
	}
	if h, ok := c.provider.Handle(nodeID); ok {
		return h.State(), nil
	}
	return device.NotConnected, nil
}

// Close tears down sessions, then the loop.
func (c *Controller) Close() {
	if err := c.provider.Close(); err != nil {
		log.Warn().Err(err).Msg("controller provider close failed")
	}
	c.cancel()
	c.loop.Stop()
}
