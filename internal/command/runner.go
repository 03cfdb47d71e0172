package command

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/clusterctl/internal/clock"
	"github.com/danmuck/clusterctl/internal/stack"
	"github.com/rs/zerolog/log"
)

var ErrRunnerMisconfigured = errors.New("command: runner misconfigured")

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAwaitingSession
	PhaseSending
	PhaseAwaitingResponse
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingSession:
		return "awaiting_session"
	case PhaseSending:
		return "sending"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Config holds the two fixed timeout budgets of one Run.
type Config struct {
	SessionPollInterval   time.Duration
	SessionPollIterations int
	ResponseTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		SessionPollInterval:   time.Second,
		SessionPollIterations: 5,
		ResponseTimeout:       10 * time.Second,
	}
}

// Observer receives per-run measurements. Optional.
type Observer interface {
	ObserveRun(cmd Command, outcome string, elapsed time.Duration)
	ObserveSessionWait(iterations int)
}

type Deps struct {
	Guard      *stack.Guard
	Provider   DeviceProvider
	Dispatcher Dispatcher
	Clock      clock.Clock
	Observer   Observer
}

// Runner executes one Command per Run. Runs on the same Runner are
// serialised.
type Runner struct {
	cfg        Config
	guard      *stack.Guard
	provider   DeviceProvider
	dispatcher Dispatcher
	clock      clock.Clock
	observer   Observer
	cmd        Command

	runMu sync.Mutex
	phase atomic.Int32

	// mu guards the pending-response flag and the outcome it gates. gen
	// identifies the armed run; responders from earlier runs carry an older
	// gen and are dropped.
	mu         sync.Mutex
	gen        uint64
	waiting    bool
	exitStatus bool
	signal     chan struct{}
}

// runResponder is the Responder handed to the dispatcher for one Run.
type runResponder struct {
	r   *Runner
	gen uint64
}

func (rr runResponder) OnResponse(success bool) {
	rr.r.mu.Lock()
	defer rr.r.mu.Unlock()
	rr.r.resolveLocked(rr.gen, success)
}

func NewRunner(cfg Config, deps Deps, cmd Command) (*Runner, error) {
	if deps.Guard == nil || deps.Provider == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("%w: guard, provider and dispatcher are required", ErrRunnerMisconfigured)
	}
	if cfg.SessionPollIterations < 0 || cfg.SessionPollInterval < 0 || cfg.ResponseTimeout <= 0 {
		return nil, fmt.Errorf("%w: invalid timeouts %+v", ErrRunnerMisconfigured, cfg)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Runner{
		cfg:        cfg,
		guard:      deps.Guard,
		provider:   deps.Provider,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		observer:   deps.Observer,
		cmd:        cmd,
	}, nil
}

func (r *Runner) Command() Command { return r.cmd }

func (r *Runner) Phase() Phase { return Phase(r.phase.Load()) }

func (r *Runner) WaitingForResponse() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// ExitStatus is the outcome recorded by the last completed Run.
func (r *Runner) ExitStatus() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitStatus
}

// Run sends the command to remoteNodeID and blocks until the response
// arrives or ResponseTimeout elapses. localNodeID is used for diagnostics.
func (r *Runner) Run(localNodeID, remoteNodeID uint64) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := r.clock.Now()
	signal, resp := r.arm()
	r.setPhase(PhaseAwaitingSession)

	if err := r.sendGuarded(localNodeID, remoteNodeID, resp); err != nil {
		r.disarm()
		return r.finish(localNodeID, remoteNodeID, start, err)
	}

	r.setPhase(PhaseAwaitingResponse)
	select {
	case <-signal:
	case <-r.clock.After(r.cfg.ResponseTimeout):
		r.expire(localNodeID, remoteNodeID)
	}

	var err error
	if !r.ExitStatus() {
		err = fmt.Errorf("%w: %s on node %s did not succeed", ErrCommandFailure, r.cmd, FormatNodeID(remoteNodeID))
	}
	return r.finish(localNodeID, remoteNodeID, start, err)
}

// sendGuarded covers the guarded section: resolve, readiness poll, send.
// The guard is released on return.
func (r *Runner) sendGuarded(localNodeID, remoteNodeID uint64, resp Responder) error {
	r.guard.Lock()
	defer r.guard.Unlock()

	dev, err := r.provider.ResolveDevice(remoteNodeID)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Errorf("%w (local %s)", err, FormatNodeID(localNodeID))
	case err != nil:
		return fmt.Errorf("command: resolve %s (local %s): %w", FormatNodeID(remoteNodeID), FormatNodeID(localNodeID), err)
	case dev == nil:
		return fmt.Errorf("%w: provider returned no handle for %s", ErrRunnerMisconfigured, FormatNodeID(remoteNodeID))
	}

	iterations, err := WaitForSessionSetup(r.clock, dev, r.cfg.SessionPollInterval, r.cfg.SessionPollIterations)
	if r.observer != nil {
		r.observer.ObserveSessionWait(iterations)
	}
	if err != nil {
		return err
	}
	log.Debug().
		Str("remote_node", FormatNodeID(remoteNodeID)).
		Int("iterations", iterations).
		Msg("command.Runner session ready")

	r.setPhase(PhaseSending)
	if err := r.dispatcher.Send(dev, r.cmd, resp); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}
	return nil
}

// OnResponse records the outcome for the run currently in flight. Late or
// duplicate calls are dropped. The dispatcher never sees this method; it is
// handed a per-run responder so callbacks from an earlier run cannot land
// on a later one.
func (r *Runner) OnResponse(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveLocked(r.gen, success)
}

func (r *Runner) resolveLocked(gen uint64, success bool) {
	if !r.waiting || gen != r.gen {
		log.Debug().
			Bool("success", success).
			Uint64("gen", gen).
			Uint64("armed_gen", r.gen).
			Str("command", r.cmd.String()).
			Msg("command.Runner stale response ignored")
		return
	}
	r.exitStatus = success
	r.waiting = false
	close(r.signal)
}

func (r *Runner) arm() (<-chan struct{}, Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.waiting = true
	r.exitStatus = false
	r.signal = make(chan struct{})
	return r.signal, runResponder{r: r, gen: r.gen}
}

func (r *Runner) disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting = false
	r.exitStatus = false
}

func (r *Runner) expire(localNodeID, remoteNodeID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.waiting {
		return
	}
	r.waiting = false
	r.exitStatus = false
	log.Warn().
		Str("local_node", FormatNodeID(localNodeID)).
		Str("remote_node", FormatNodeID(remoteNodeID)).
		Dur("timeout", r.cfg.ResponseTimeout).
		Msg("command.Runner no response before ceiling")
}

func (r *Runner) finish(localNodeID, remoteNodeID uint64, start time.Time, err error) error {
	r.setPhase(PhaseDone)
	elapsed := r.clock.Now().Sub(start)
	kind := Describe(err)
	if r.observer != nil {
		r.observer.ObserveRun(r.cmd, kind, elapsed)
	}

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("local_node", FormatNodeID(localNodeID)).
		Str("remote_node", FormatNodeID(remoteNodeID)).
		Uint32("cluster", r.cmd.ClusterID).
		Uint32("command", r.cmd.CommandID).
		Uint16("endpoint", r.cmd.EndpointID).
		Str("kind", kind).
		Dur("elapsed", elapsed).
		Msg("command.Runner finished")
	return err
}

func (r *Runner) setPhase(p Phase) {
	r.phase.Store(int32(p))
}
