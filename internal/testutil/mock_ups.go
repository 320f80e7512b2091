// Package testutil provides testing utilities for the tracking client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Paths served by the mock carrier.
const (
	TokenPath         = "/security/v1/oauth/token"
	DetailsPrefix     = "/api/track/v1/details/"
	ReferencePrefix   = "/api/track/v1/reference/details/"
	DefaultTestToken  = "test-access-token"
	DefaultClientID   = "test-client"
	DefaultClientPass = "test-secret"
)

// MockResponse defines the behavior for a mock carrier response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUPS is a configurable mock of the carrier OAuth and tracking APIs.
type MockUPS struct {
	server *httptest.Server

	mu        sync.RWMutex
	sequences map[string][]MockResponse
	calls     map[string]int
	token     MockResponse

	// Tracking
	RequestCount      int
	TokenCount        int
	LastRequestHeader http.Header
	LastQuery         map[string]string
}

// NewMockUPS creates a new mock carrier server.
func NewMockUPS() *MockUPS {
	mock := &MockUPS{
		sequences: make(map[string][]MockResponse),
		calls:     make(map[string]int),
		token:     NewTokenResponse(DefaultTestToken),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockUPS) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUPS) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and per-path call positions.
func (m *MockUPS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenCount = 0
	m.LastRequestHeader = nil
	m.LastQuery = nil
	m.calls = make(map[string]int)
}

// SetTokenResponse overrides the OAuth token endpoint response.
func (m *MockUPS) SetTokenResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = resp
}

// SetResponse configures a fixed response for a path.
func (m *MockUPS) SetResponse(path string, resp MockResponse) {
	m.SetSequence(path, resp)
}

// SetSequence configures successive responses for a path. The last response
// repeats once the sequence is used up.
func (m *MockUPS) SetSequence(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[path] = resps
	m.calls[path] = 0
}

// SetTracking configures responses for a tracking number or reference,
// choosing the details or reference path the way the client does.
func (m *MockUPS) SetTracking(id string, resps ...MockResponse) {
	m.SetSequence(PathFor(id), resps...)
}

// GetRequestCount returns the number of tracking requests served.
func (m *MockUPS) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenCount returns the number of token requests served.
func (m *MockUPS) GetTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenCount
}

// GetCallCount returns the number of requests served for a path.
func (m *MockUPS) GetCallCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[path]
}

// GetLastRequestHeader returns a copy of the headers of the last tracking request.
func (m *MockUPS) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// GetLastQuery returns the query parameters of the last tracking request.
func (m *MockUPS) GetLastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.LastQuery))
	for k, v := range m.LastQuery {
		out[k] = v
	}
	return out
}

func (m *MockUPS) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == TokenPath {
		m.mu.Lock()
		m.TokenCount++
		resp := m.token
		m.mu.Unlock()

		user, pass, ok := r.BasicAuth()
		if !ok || user == "" || pass == "" {
			write(w, MockResponse{StatusCode: http.StatusUnauthorized, Body: `{"error":"invalid_client"}`})
			return
		}
		write(w, resp)
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	m.LastQuery = make(map[string]string)
	for k := range r.URL.Query() {
		m.LastQuery[k] = r.URL.Query().Get(k)
	}

	seq, exists := m.sequences[r.URL.Path]
	n := m.calls[r.URL.Path]
	m.calls[r.URL.Path]++
	m.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+DefaultTestToken {
		write(w, MockResponse{StatusCode: http.StatusUnauthorized, Body: `{"response":{"errors":[{"code":"250002","message":"Invalid Authentication Information."}]}}`})
		return
	}

	if !exists || len(seq) == 0 {
		write(w, NewNotFoundResponse())
		return
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	write(w, seq[n])
}

func write(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// PathFor returns the tracking path the client requests for id.
func PathFor(id string) string {
	if strings.HasPrefix(id, "1Z") {
		return DetailsPrefix + id
	}
	return ReferencePrefix + id
}

// Activity describes the first activity of a mock tracking response.
type Activity struct {
	City              string
	State             string
	Country           string
	StatusDescription string
	StatusCode        string
	Date              string // yyyyMMdd
	Time              string // HHmmss
	Service           string
}

// DefaultActivity returns a delivered activity.
func DefaultActivity() Activity {
	return Activity{
		City:              "ATLANTA",
		State:             "GA",
		Country:           "US",
		StatusDescription: "DELIVERED ",
		StatusCode:        "011",
		Date:              "20250425",
		Time:              "100510",
		Service:           "UPS Ground",
	}
}

// NewTokenResponse creates an OAuth client-credentials token response.
func NewTokenResponse(token string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"token_type":"Bearer","access_token":%q,"expires_in":14399,"status":"approved"}`, token),
	}
}

// NewTrackResponse creates a 200 OK tracking response with one activity.
func NewTrackResponse(id string, a Activity) MockResponse {
	service := ""
	if a.Service != "" {
		service = fmt.Sprintf(`"service":{"code":"003","description":%q},`, a.Service)
	}
	body := fmt.Sprintf(`{"trackResponse":{"shipment":[{"inquiryNumber":%q,"package":[{"trackingNumber":%q,%s"activity":[{"location":{"address":{"city":%q,"stateProvince":%q,"country":%q}},"status":{"type":"D","description":%q,"code":"FS","statusCode":%q},"date":%q,"time":%q}]}]}]}}`,
		id, id, service, a.City, a.State, a.Country, a.StatusDescription, a.StatusCode, a.Date, a.Time)
	return MockResponse{StatusCode: http.StatusOK, Body: body}
}

// NewNoActivityResponse creates a 200 OK response whose shipment has no activity.
func NewNoActivityResponse(id string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"trackResponse":{"shipment":[{"inquiryNumber":%q,"warnings":[{"code":"TW0001","message":"Tracking Information Not Found"}]}]}}`, id),
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"response":{"errors":[{"code":"151044","message":"No tracking information available"}]}}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"response":{"errors":[{"code":"10429","message":"Too Many Requests"}]}}`,
		Headers:    map[string]string{"Retry-After": "1"},
	}
}

// NewRateLimitBodyResponse creates a rate limit signalled only by the error
// payload, not by the status code.
func NewRateLimitBodyResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"response":{"errors":[{"code":"10429","message":"Rate limit exceeded"}]}}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"response":{"errors":[{"code":"10001","message":"The request failed due to an internal error"}]}}`,
	}
}

// NewMalformedResponse creates a 200 OK response with an invalid JSON body.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"trackResponse": [`,
	}
}
