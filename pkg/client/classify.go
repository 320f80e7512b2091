package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Sternrassler/ups-track-resolver/pkg/resolve"
)

// ErrorClass represents a classification of lookup failures.
type ErrorClass string

const (
	// ErrorClassRateLimit represents upstream throttling (429 or a rate limit
	// error token in the payload).
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNotFound represents a valid response without shipment activity.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassUpstream represents any other non-2xx response.
	ErrorClassUpstream ErrorClass = "upstream"

	// ErrorClassTransport represents network and decoding failures.
	ErrorClassTransport ErrorClass = "transport"
)

// Rate limit markers recognised in error payloads.
var rateLimitTokens = [][]byte{
	[]byte("10429"),
	[]byte("Too Many Requests"),
}

// Reason maps the class onto the resolver's failure taxonomy.
func (c ErrorClass) Reason() resolve.Reason {
	switch c {
	case ErrorClassRateLimit:
		return resolve.ReasonRateLimited
	case ErrorClassNotFound:
		return resolve.ReasonNotFound
	case ErrorClassTransport:
		return resolve.ReasonTransportError
	default:
		return resolve.ReasonUpstreamError
	}
}

// Classify categorizes a raw lookup result. A non-nil err is a transport
// failure. Non-2xx responses are rate limits when the status is 429 or the
// payload carries a rate limit token, and upstream errors otherwise. A 2xx
// response yields an empty class. Classify never retries or sleeps.
func Classify(statusCode int, body []byte, err error) ErrorClass {
	if err != nil {
		return ErrorClassTransport
	}

	if statusCode >= 200 && statusCode < 300 {
		return ""
	}

	if statusCode == http.StatusTooManyRequests {
		return ErrorClassRateLimit
	}
	for _, token := range rateLimitTokens {
		if bytes.Contains(body, token) {
			return ErrorClassRateLimit
		}
	}

	return ErrorClassUpstream
}

// upstreamErrors is the error envelope returned by the carrier.
type upstreamErrors struct {
	Response struct {
		Errors []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"response"`
}

// errorMessage extracts a readable message from an error payload, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var env upstreamErrors
	if err := json.Unmarshal(body, &env); err == nil && len(env.Response.Errors) > 0 {
		parts := make([]string, 0, len(env.Response.Errors))
		for _, e := range env.Response.Errors {
			parts = append(parts, strings.TrimSpace(e.Code+" "+e.Message))
		}
		return strings.Join(parts, "; ")
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}
