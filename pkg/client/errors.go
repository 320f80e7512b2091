package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/ups-track-resolver/pkg/resolve"
)

// Common errors returned by the client.
var (
	// ErrNoActivity is returned when a tracking response carries no activity.
	ErrNoActivity = errors.New("no activity found")

	// ErrMalformedResponse is returned when a 2xx body is not a tracking response.
	ErrMalformedResponse = errors.New("malformed tracking response")

	// ErrCooldown is returned when a shared cooldown holds the request back.
	ErrCooldown = errors.New("shared rate limit cooldown active")
)

// TrackError represents a failed tracking lookup with its classification.
type TrackError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TrackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("UPS %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("UPS %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TrackError) Unwrap() error {
	return e.Err
}

// OutcomeFromError converts a lookup error into a failed outcome. Errors that
// are not a *TrackError count as transport failures.
func OutcomeFromError(err error) resolve.Outcome {
	var te *TrackError
	if !errors.As(err, &te) {
		return resolve.Failure(resolve.ReasonTransportError, err.Error())
	}

	detail := te.Message
	if te.Err != nil {
		detail = fmt.Sprintf("%s: %v", te.Message, te.Err)
	}
	return resolve.Failure(te.ErrorClass.Reason(), detail)
}
