package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Pending After, AfterFunc and Sleep calls fire once the clock passes their
// deadline.
type FakeClock struct {
	wrapped
	fake *clockwork.FakeClock
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	fc := clockwork.NewFakeClockAt(initial)
	return &FakeClock{wrapped: wrapped{fc}, fake: fc}
}

// Advance moves the clock forward by d and fires every waiter that is now
// due.
func (c *FakeClock) Advance(d time.Duration) {
	c.fake.Advance(d)
}

// WaitForTimers blocks until n waiters are pending. Tests call it
// before Advance so the goroutine under test has registered its timer.
func (c *FakeClock) WaitForTimers(n int) {
	_ = c.fake.BlockUntilContext(context.Background(), n)
}

// WaitForTimersContext is WaitForTimers bounded by ctx.
func (c *FakeClock) WaitForTimersContext(ctx context.Context, n int) error {
	return c.fake.BlockUntilContext(ctx, n)
}
