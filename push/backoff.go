package push

import "time"

// Backoff computes reconnection delays: exponential from Base, doubling
// each attempt, capped at Cap. No jitter — reconnect pacing for a single
// per-topic connection, not a fleet.
type Backoff struct {
	// Base is the delay before the first reconnect attempt.
	Base time.Duration

	// Cap is the maximum delay between attempts.
	Cap time.Duration
}

// DefaultBackoff returns the standard reconnect schedule:
// 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
func DefaultBackoff() Backoff {
	return Backoff{
		Base: time.Second,
		Cap:  30 * time.Second,
	}
}

// Delay returns the wait before the given reconnect attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}
