package resolve

import (
	"context"
	"fmt"
	"time"
)

// Reason classifies why a lookup did not produce a record.
type Reason string

const (
	// ReasonRateLimited means the upstream throttled the request. It is transient
	// and never appears as a final outcome.
	ReasonRateLimited Reason = "rate_limited"

	// ReasonNotFound means the identifier has no matching shipment or activity.
	ReasonNotFound Reason = "not_found"

	// ReasonUpstreamError means the upstream answered with a non-2xx response
	// that was not a rate limit.
	ReasonUpstreamError Reason = "upstream_error"

	// ReasonTransportError means the request failed at the network level or the
	// response could not be decoded.
	ReasonTransportError Reason = "transport_error"

	// ReasonRetriesExhausted is assigned by the scheduler to identifiers that were
	// still rate limited when the attempt budget ran out.
	ReasonRetriesExhausted Reason = "retries_exhausted"
)

// Record is the normalized status of one shipment.
type Record struct {
	City              string    `json:"city"`
	State             string    `json:"state"`
	Country           string    `json:"country"`
	StatusDescription string    `json:"statusDescription"`
	StatusCode        string    `json:"statusCode"`
	EventTime         time.Time `json:"datetime"`
	Service           string    `json:"service"`
}

// Outcome is the result of looking up one identifier: either a Record or a
// failure Reason with optional detail.
type Outcome struct {
	Record *Record `json:"record,omitempty"`
	Reason Reason  `json:"reason,omitempty"`
	Detail string  `json:"error,omitempty"`
}

// Success wraps a record as a successful outcome.
func Success(rec Record) Outcome {
	return Outcome{Record: &rec}
}

// Failure builds a failed outcome.
func Failure(reason Reason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

// OK reports whether the outcome carries a record.
func (o Outcome) OK() bool {
	return o.Record != nil
}

// RateLimited reports whether the lookup should be retried on a later pass.
func (o Outcome) RateLimited() bool {
	return o.Record == nil && o.Reason == ReasonRateLimited
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o.OK() {
		return fmt.Sprintf("success(%s)", o.Record.StatusDescription)
	}
	if o.Detail != "" {
		return fmt.Sprintf("failure(%s: %s)", o.Reason, o.Detail)
	}
	return fmt.Sprintf("failure(%s)", o.Reason)
}

// Lookuper resolves a single identifier. Implementations report failures as
// outcomes and must be safe for concurrent use.
type Lookuper interface {
	Lookup(ctx context.Context, id string) Outcome
}

// LookupFunc adapts a function to the Lookuper interface.
type LookupFunc func(ctx context.Context, id string) Outcome

// Lookup implements Lookuper.
func (f LookupFunc) Lookup(ctx context.Context, id string) Outcome {
	return f(ctx, id)
}
