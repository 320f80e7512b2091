package resolve

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configuration and cancellation errors.
var (
	// ErrNilLookup is returned when no lookup capability is provided.
	ErrNilLookup = errors.New("lookup is required")

	// ErrInvalidBatchSize is returned when BatchSize is less than 1.
	ErrInvalidBatchSize = errors.New("batch size must be >= 1")

	// ErrInvalidMaxAttempts is returned when MaxAttempts is less than 1.
	ErrInvalidMaxAttempts = errors.New("max attempts must be >= 1")

	// ErrNegativeDelay is returned when BaseDelay or LookupTimeout is negative.
	ErrNegativeDelay = errors.New("delays must not be negative")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// Config holds the scheduler configuration.
type Config struct {
	// BatchSize is the number of identifiers dispatched concurrently per pass.
	BatchSize int

	// MaxAttempts caps the number of throttled passes. Passes without any
	// rate-limited lookup do not count.
	MaxAttempts int

	// BaseDelay is the step of the default linear backoff.
	BaseDelay time.Duration

	// LookupTimeout bounds each individual lookup (0 disables).
	LookupTimeout time.Duration

	// Backoff overrides the linear policy derived from BaseDelay.
	Backoff Backoff

	// Sleep overrides how the scheduler waits between throttled passes.
	Sleep Sleeper

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     10,
		MaxAttempts:   3,
		BaseDelay:     DefaultBaseDelay,
		LookupTimeout: 15 * time.Second,
	}
}

// Validate checks the configuration for fatal problems.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidMaxAttempts, c.MaxAttempts)
	}
	if c.BaseDelay < 0 || c.LookupTimeout < 0 {
		return ErrNegativeDelay
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Backoff == nil {
		c.Backoff = LinearBackoff(c.BaseDelay)
	}
	if c.Sleep == nil {
		c.Sleep = ContextSleep
	}
	if c.Logger == nil {
		logger := log.With().Str("component", "resolver").Logger()
		c.Logger = &logger
	}
	return c
}
