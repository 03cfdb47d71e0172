package stack

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

var ErrLoopStopped = errors.New("stack: event loop stopped")

const defaultQueueDepth = 64

// Loop is the stack's event-processing goroutine. Every posted task runs
// with the guard held, one at a time, in post order.
type Loop struct {
	guard *Guard
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

func NewLoop(guard *Guard) *Loop {
	return &Loop{
		guard: guard,
		tasks: make(chan func(), defaultQueueDepth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (l *Loop) Guard() *Guard {
	return l.guard
}

// Start launches the worker. It exits when ctx is cancelled or Stop is
// called. Calling Start twice is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.started.Store(true)
		go l.run(ctx)
	})
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.stopOnce.Do(func() { close(l.quit) })
			return
		case <-l.quit:
			return
		case task := <-l.tasks:
			l.runTask(task)
		}
	}
}

func (l *Loop) runTask(task func()) {
	l.guard.Lock()
	defer l.guard.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("stack.Loop task panicked")
		}
	}()
	task()
}

// Post enqueues task. Returns ErrLoopStopped once the loop has stopped.
// Must not be called from inside a task while the queue is full.
func (l *Loop) Post(task func()) error {
	select {
	case <-l.quit:
		log.Debug().Msg("stack.Loop post after stop dropped")
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- task:
		return nil
	case <-l.quit:
		log.Debug().Msg("stack.Loop post after stop dropped")
		return ErrLoopStopped
	}
}

// Stop halts the worker and waits for the running task, if any, to finish.
// Tasks still queued are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	if l.started.Load() {
		<-l.done
	}
}
