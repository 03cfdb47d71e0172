package command

import (
	"fmt"
	"time"

	"github.com/danmuck/clusterctl/internal/clock"
)

// WaitForSessionSetup polls dev every interval while its handshake is in
// progress, for at most iterations sleeps. Readiness is checked before each
// sleep, so a connected device costs nothing. Returns the number of sleeps
// performed.
func WaitForSessionSetup(clk clock.Clock, dev Device, interval time.Duration, iterations int) (int, error) {
	if dev == nil {
		return 0, fmt.Errorf("%w: nil device handle", ErrSessionTimeout)
	}
	slept := 0
	for slept < iterations && dev.IsHandshakeInProgress() {
		clk.Sleep(interval)
		slept++
	}
	if !dev.IsSecurelyConnected() {
		return slept, fmt.Errorf(
			"%w: node %s not connected after %d polls of %s",
			ErrSessionTimeout,
			FormatNodeID(dev.NodeID()),
			slept,
			interval,
		)
	}
	return slept, nil
}
