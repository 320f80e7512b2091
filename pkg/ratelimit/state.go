// Package ratelimit tracks upstream throttling signals and gates requests.
// When the carrier answers with a rate limit, a cooldown derived from the
// Retry-After header is stored in Redis so that every client instance backs
// off together instead of spending requests on a window that is still closed.
package ratelimit

import (
	"time"
)

// Redis keys for throttle state storage.
const (
	RedisKeyCooldownUntil = "tracking:rate_limit:cooldown_until"
	RedisKeyLast429       = "tracking:rate_limit:last_429"
	RedisKeyThrottleCount = "tracking:rate_limit:throttle_count"
)

const (
	// DefaultCooldown applies when a throttled response carries no usable
	// Retry-After header.
	DefaultCooldown = 2 * time.Second

	// MaxCooldown caps Retry-After values so a bogus header cannot stall
	// every client for an unbounded time.
	MaxCooldown = 60 * time.Second
)

// ThrottleState represents the shared upstream throttle state.
type ThrottleState struct {
	// CooldownUntil is the time before which no request should be sent.
	CooldownUntil time.Time `json:"cooldown_until"`

	// Last429At is when the last throttled response was observed.
	Last429At time.Time `json:"last_429_at"`

	// ThrottleCount is the number of throttled responses recorded in the
	// current cooldown key lifetime.
	ThrottleCount int64 `json:"throttle_count"`
}

// InCooldown returns true if requests should currently be held back.
func (s *ThrottleState) InCooldown() bool {
	return time.Now().Before(s.CooldownUntil)
}

// TimeUntilReady returns the remaining cooldown, or 0 if none is active.
func (s *ThrottleState) TimeUntilReady() time.Duration {
	d := time.Until(s.CooldownUntil)
	if d < 0 {
		return 0
	}
	return d
}

