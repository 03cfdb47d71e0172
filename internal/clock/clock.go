// Package clock abstracts the time operations used by the command lifecycle
// so readiness polling and response ceilings can be driven deterministically
// in tests. Both clocks are backed by clockwork.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is injected wherever production code would otherwise call
// time.Now, time.After, time.AfterFunc or time.Sleep.
type Clock interface {
	Now() time.Time

	// After delivers the current time once d has elapsed. d <= 0 delivers
	// immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels a
	// pending call.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep parks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a cancellable scheduled call created by AfterFunc.
type Timer struct {
	t clockwork.Timer
}

// Stop cancels the pending call. Reports false if it already fired or was
// already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.t == nil {
		return false
	}
	return t.t.Stop()
}

// Real returns a Clock backed by the system clock.
func Real() Clock { return wrapped{clockwork.NewRealClock()} }

// wrapped adapts a clockwork clock to Clock.
type wrapped struct {
	c clockwork.Clock
}

func (w wrapped) Now() time.Time { return w.c.Now() }

func (w wrapped) After(d time.Duration) <-chan time.Time {
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- w.c.Now()
		return ch
	}
	return w.c.After(d)
}

func (w wrapped) AfterFunc(d time.Duration, f func()) *Timer {
	return &Timer{t: w.c.AfterFunc(d, f)}
}

func (w wrapped) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	w.c.Sleep(d)
}
