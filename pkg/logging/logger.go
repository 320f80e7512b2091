// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRequest derives a logger that tags every event with a request ID, so
// the lookups of one batch can be correlated.
func WithRequest(logger zerolog.Logger, requestID string) *zerolog.Logger {
	l := logger.With().Str("request_id", requestID).Logger()
	return &l
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual lookups (identifier, kind, trans_id)
//   - Pass summaries (dispatched, resolved, requeued)
//   - Not-found results
//
// Info: Normal operation events
//   - Batch resolution complete
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Upstream rate limiting and backoff
//   - Upstream and transport failures of single lookups
//   - Throttle state unavailable (request sent anyway)
//
// Error: Error conditions requiring attention
//   - Identifiers that exhausted their retries
//   - Panicking lookups
//   - Configuration errors
//
// Context Fields:
//   - component: emitting component (resolver, ups-client, rate-limit, track-server)
//   - request_id: batch correlation ID
//   - identifier: tracking number or reference
//   - kind: details or reference
//   - status: HTTP status code
//   - error_class: rate_limit, not_found, upstream, transport
//   - attempt / max_attempts: throttled pass counter
//   - backoff: delay before the next pass
