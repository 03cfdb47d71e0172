package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based). With
// jitter on, the delay is scaled into [0.5, 1.5) of the computed value; a nil
// rng pins the scale at 0.5.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	base := float64(cfg.InitialDelay)
	if attempt > 1 {
		base *= math.Pow(math.Max(cfg.Multiplier, 1.0), float64(attempt-1))
	}
	if cfg.MaxDelay > 0 {
		base = math.Min(base, float64(cfg.MaxDelay))
	}
	if cfg.Jitter && attempt > 1 {
		scale := 0.5
		if rng != nil {
			scale += rng.Float64()
		}
		base *= scale
	}
	return time.Duration(base)
}

// RetryAllowed reports whether another connect attempt may follow attempt.
// maxAttempts <= 0 means unbounded.
func RetryAllowed(maxAttempts int, attempt int) bool {
	return maxAttempts <= 0 || attempt < maxAttempts
}
