package resolve

import (
	"context"
	"time"
)

// DefaultBaseDelay is the linear backoff step between throttled passes.
const DefaultBaseDelay = 2 * time.Second

// Backoff returns the delay to wait after the pass with the given 0-based
// attempt index. Implementations must be pure and non-decreasing in attempt.
type Backoff func(attempt int) time.Duration

// LinearBackoff returns a Backoff that waits base*(attempt+1).
func LinearBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base * time.Duration(attempt+1)
	}
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper backed by a timer.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
