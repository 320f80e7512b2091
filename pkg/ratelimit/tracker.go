package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle tracking.
var (
	upstreamThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_upstream_throttles_total",
		Help: "Total number of rate limited responses recorded from the carrier",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_rate_limit_blocks_total",
		Help: "Total number of requests held back during a shared cooldown",
	})

	cooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_cooldown_seconds",
		Help: "Length of the most recently recorded cooldown",
	})
)

// Tracker stores throttle state in Redis and gates requests on it.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new throttle tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the current throttle state from Redis.
// Missing keys yield a zero state, which is never in cooldown.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	cooldownMillis, err := t.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}

	lastMillis, err := t.redis.Get(ctx, RedisKeyLast429).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last 429: %w", err)
	}

	count, err := t.redis.Get(ctx, RedisKeyThrottleCount).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttle count: %w", err)
	}

	state := &ThrottleState{ThrottleCount: count}
	if cooldownMillis > 0 {
		state.CooldownUntil = time.UnixMilli(cooldownMillis)
	}
	if lastMillis > 0 {
		state.Last429At = time.UnixMilli(lastMillis)
	}

	return state, nil
}

// recordThrottleScript extends the shared cooldown and bumps the throttle
// counter in one step, so a shorter cooldown recorded concurrently by another
// instance never replaces a longer one.
//
// KEYS: cooldown_until, last_429, throttle_count
// ARGV: until (unix ms), now (unix ms), throttle_count TTL (seconds)
var recordThrottleScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0') or 0
local untilMs = tonumber(ARGV[1])
if current > untilMs then
	untilMs = current
end
local ttl = untilMs - tonumber(ARGV[2])
if ttl < 1 then
	ttl = 1
end
redis.call('SET', KEYS[1], untilMs, 'PX', ttl)
redis.call('SET', KEYS[2], ARGV[2])
redis.call('INCR', KEYS[3])
redis.call('EXPIRE', KEYS[3], ARGV[3])
return untilMs
`)

// RecordThrottle stores a cooldown derived from the Retry-After header of a
// rate limited response. An existing longer cooldown is kept.
func (t *Tracker) RecordThrottle(ctx context.Context, headers http.Header) error {
	now := time.Now()

	cooldown, err := ParseRetryAfter(headers, now)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Invalid Retry-After header, using default cooldown")
		cooldown = DefaultCooldown
	}

	keys := []string{RedisKeyCooldownUntil, RedisKeyLast429, RedisKeyThrottleCount}
	untilMillis, err := recordThrottleScript.Run(ctx, t.redis, keys,
		now.Add(cooldown).UnixMilli(),
		now.UnixMilli(),
		int64(MaxCooldown/time.Second),
	).Int64()
	if err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}

	until := time.UnixMilli(untilMillis)
	ttl := max(until.Sub(now), time.Millisecond)

	upstreamThrottlesTotal.Inc()
	cooldownSeconds.Set(ttl.Seconds())

	t.logger.Warn().
		Dur("cooldown", ttl).
		Time("cooldown_until", until).
		Msg("Carrier rate limit recorded")

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. It returns
// false while a shared cooldown is active.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get throttle state: %w", err)
	}

	if state.InCooldown() {
		t.logger.Debug().
			Dur("wait_duration", state.TimeUntilReady()).
			Msg("Shared cooldown active - holding request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	return true, nil
}

// ParseRetryAfter returns the cooldown requested by a Retry-After header,
// given either as delay seconds or as an HTTP date. A missing header yields
// DefaultCooldown. Results are clamped to [0, MaxCooldown].
func ParseRetryAfter(headers http.Header, now time.Time) (time.Duration, error) {
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return DefaultCooldown, nil
	}

	var d time.Duration
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		// Compare in seconds so huge values cannot overflow the multiplication.
		switch {
		case secs <= 0:
			d = 0
		case secs >= int64(MaxCooldown/time.Second):
			d = MaxCooldown
		default:
			d = time.Duration(secs) * time.Second
		}
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return 0, fmt.Errorf("parse Retry-After header %q: %w", value, err)
	}

	if d < 0 {
		d = 0
	}
	if d > MaxCooldown {
		d = MaxCooldown
	}
	return d, nil
}
