package resolve

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// pending is a queued identifier together with its submission position.
type pending struct {
	index     int
	id        string
	throttles int
}

// recorded is a terminal outcome produced by a pass.
type recorded struct {
	index   int
	outcome Outcome
}

// passResult summarizes one dispatched batch.
type passResult struct {
	final      []recorded
	dispatched int
	requeued   int
	throttled  bool
}

// Scheduler resolves identifier lists in fixed-size concurrent batches,
// requeueing rate-limited lookups until the attempt budget is spent.
type Scheduler struct {
	lookup Lookuper
	config Config
	logger zerolog.Logger
}

// NewScheduler validates cfg and returns a Scheduler.
func NewScheduler(lookup Lookuper, cfg Config) (*Scheduler, error) {
	if lookup == nil {
		return nil, ErrNilLookup
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()

	return &Scheduler{
		lookup: lookup,
		config: cfg,
		logger: *cfg.Logger,
	}, nil
}

// Resolve is a convenience wrapper around NewScheduler and Scheduler.Resolve.
func Resolve(ctx context.Context, ids []string, lookup Lookuper, cfg Config) (*ResultSet, error) {
	s, err := NewScheduler(lookup, cfg)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, ids)
}

// Resolve looks up every identifier and returns one result per submitted
// position. Per-identifier failures are reported in the results. The returned
// error is non-nil only when ctx ends before the queue drains; the result set
// is still complete in that case, with unresolved entries marked as
// retries exhausted.
func (s *Scheduler) Resolve(ctx context.Context, ids []string) (*ResultSet, error) {
	start := time.Now()
	agg := newAggregator(ids)

	queue := make([]pending, len(ids))
	for i, id := range ids {
		queue[i] = pending{index: i, id: id}
	}

	attempt := 0
	passes := 0
	var stopErr error

	for len(queue) > 0 && attempt < s.config.MaxAttempts {
		if err := ctx.Err(); err != nil {
			stopErr = fmt.Errorf("%w: %v", ErrContextCancelled, err)
			break
		}

		var pr passResult
		pr, queue = s.runPass(ctx, queue)
		passes++

		for _, r := range pr.final {
			agg.record(r.index, r.outcome)
			observeOutcome(r.outcome)
		}
		resolvePassesTotal.WithLabelValues(strconv.FormatBool(pr.throttled)).Inc()

		s.logger.Debug().
			Int("pass", passes).
			Int("dispatched", pr.dispatched).
			Int("resolved", len(pr.final)).
			Int("requeued", pr.requeued).
			Int("queued", len(queue)).
			Msg("Pass complete")

		if !pr.throttled {
			continue
		}

		delay := s.config.Backoff(attempt)
		backoffSeconds.Observe(delay.Seconds())

		s.logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", s.config.MaxAttempts).
			Int("requeued", pr.requeued).
			Dur("backoff", delay).
			Msg("Upstream rate limited, backing off")

		attempt++
		if err := s.config.Sleep(ctx, delay); err != nil {
			s.logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during backoff")
			stopErr = fmt.Errorf("%w: %v", ErrContextCancelled, err)
			break
		}
	}

	if len(queue) > 0 {
		throttles := make(map[int]int, len(queue))
		for _, p := range queue {
			throttles[p.index] = p.throttles
		}
		cancelled := stopErr != nil
		exhausted := agg.exhaust(func(index int) string {
			return exhaustDetail(throttles[index], attempt, cancelled)
		})
		retriesExhaustedTotal.Add(float64(exhausted))
		outcomesTotal.WithLabelValues(string(ReasonRetriesExhausted)).Add(float64(exhausted))

		s.logger.Error().
			Int("exhausted", exhausted).
			Int("max_attempts", s.config.MaxAttempts).
			Msg("Retry attempts exhausted")
	}

	rs := agg.result()
	rs.Passes = passes
	rs.Attempts = attempt

	s.logger.Info().
		Int("identifiers", len(ids)).
		Int("passes", passes).
		Int("attempts", attempt).
		Dur("duration", time.Since(start)).
		Msg("Resolution complete")

	return rs, stopErr
}

// runPass dispatches up to BatchSize identifiers from the front of queue,
// waits for all of them and returns the terminal outcomes together with the
// queue for the next pass. Rate-limited identifiers go to the tail.
func (s *Scheduler) runPass(ctx context.Context, queue []pending) (passResult, []pending) {
	n := min(s.config.BatchSize, len(queue))
	batch, rest := queue[:n], queue[n:]

	// Each goroutine owns one slot; the merge below runs after the join.
	outcomes := make([]Outcome, n)
	var g errgroup.Group
	for i, p := range batch {
		g.Go(func() error {
			outcomes[i] = s.lookupOne(ctx, p.id)
			return nil
		})
	}
	_ = g.Wait()

	next := make([]pending, len(rest), len(rest)+n)
	copy(next, rest)

	pr := passResult{dispatched: n}
	for i, p := range batch {
		o := outcomes[i]
		if o.RateLimited() {
			p.throttles++
			next = append(next, p)
			pr.requeued++
			pr.throttled = true
			continue
		}
		pr.final = append(pr.final, recorded{index: p.index, outcome: o})
	}

	return pr, next
}

// lookupOne runs a single lookup under the per-lookup timeout. A panicking or
// empty lookup is turned into a failure so siblings are unaffected.
func (s *Scheduler) lookupOne(ctx context.Context, id string) (out Outcome) {
	if s.config.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.LookupTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("identifier", id).
				Interface("panic", r).
				Msg("Lookup panicked")
			out = Failure(ReasonTransportError, fmt.Sprintf("lookup panic: %v", r))
		}
	}()

	out = s.lookup.Lookup(ctx, id)
	if !out.OK() && out.Reason == "" {
		out = Failure(ReasonUpstreamError, "lookup returned no outcome")
	}

	s.logger.Debug().
		Str("identifier", id).
		Str("outcome", out.String()).
		Msg("Lookup finished")

	return out
}

// exhaustDetail describes why a queued entry was never resolved. Entries that
// were never dispatched are not described as rate limited.
func exhaustDetail(throttles, attempts int, cancelled bool) string {
	switch {
	case cancelled && throttles > 0:
		return "resolution cancelled while rate limited"
	case cancelled:
		return "resolution cancelled before dispatch"
	case throttles > 0:
		return fmt.Sprintf("still rate limited after %d attempts", attempts)
	default:
		return fmt.Sprintf("not dispatched before %d attempts were used", attempts)
	}
}
