package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/ups-track-resolver/internal/testutil"
	"github.com/Sternrassler/ups-track-resolver/pkg/client"
	"github.com/Sternrassler/ups-track-resolver/pkg/logging"
	"github.com/Sternrassler/ups-track-resolver/pkg/resolve"
	"github.com/redis/go-redis/v9"
)

// instantConfig is a resolver config that never sleeps.
func instantConfig() resolve.Config {
	cfg := resolve.DefaultConfig()
	cfg.Backoff = func(int) time.Duration { return 0 }
	cfg.Sleep = func(context.Context, time.Duration) error { return nil }
	return cfg
}

func newTestServer(lookup resolve.Lookuper) *server {
	return &server{
		lookup:  lookup,
		resolve: instantConfig(),
		logger:  logging.NewLogger("track-server-test"),
	}
}

func decodeTrack(t *testing.T, body io.Reader) trackResponse {
	t.Helper()
	var resp trackResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "OK" {
		t.Errorf("Expected body 'OK', got %q", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("without redis", func(t *testing.T) {
		s := newTestServer(resolve.LookupFunc(func(context.Context, string) resolve.Outcome {
			return resolve.Outcome{}
		}))

		w := httptest.NewRecorder()
		s.readyHandler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		redisClient := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
		})
		defer redisClient.Close()

		s := newTestServer(nil)
		s.redis = redisClient

		w := httptest.NewRecorder()
		s.readyHandler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(nil)
	w := httptest.NewRecorder()

	s.routes().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tracking_backoff_seconds") {
		t.Error("Expected resolver metrics in /metrics output")
	}
}

func TestParseIdentifiers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"single", "1Z999AA10123456784", []string{"1Z999AA10123456784"}},
		{"newlines", "A\nB\r\nC", []string{"A", "B", "C"}},
		{"commas", "A, B ,C", []string{"A", "B", "C"}},
		{"mixed with blanks", "\n A,,\n\n B \n", []string{"A", "B"}},
		{"duplicates kept", "A\nA", []string{"A", "A"}},
		{"empty", "", []string{}},
		{"whitespace only", "  \n , \t", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseIdentifiers(tt.input)
			if !slices.Equal(got, tt.expected) {
				t.Errorf("parseIdentifiers(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTrackHandler_BadRequests(t *testing.T) {
	s := newTestServer(resolve.LookupFunc(func(context.Context, string) resolve.Outcome {
		t.Error("lookup should not be called")
		return resolve.Outcome{}
	}))
	mux := s.routes()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"GET without reference", "GET", "/track", "", http.StatusBadRequest},
		{"GET with blank reference", "GET", "/track?referenceNumber=%20", "", http.StatusBadRequest},
		{"POST empty body", "POST", "/track", "\n,\n", http.StatusBadRequest},
		{"unsupported method", "DELETE", "/track", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)))

			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}

			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("Expected JSON error body, got %q (%v)", w.Body.String(), err)
			}
		})
	}
}

func TestTrackHandler_BodyTooLarge(t *testing.T) {
	s := newTestServer(resolve.LookupFunc(func(context.Context, string) resolve.Outcome {
		t.Error("lookup should not be called for an oversized body")
		return resolve.Outcome{}
	}))

	// Identifiers right up to the limit, with the last one crossing it.
	body := strings.Repeat("1Z999AA1012345678\n", maxRequestBytes/18) + "1Z999AA10123456784"
	if len(body) <= maxRequestBytes {
		t.Fatalf("test body of %d bytes does not exceed the limit", len(body))
	}

	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, httptest.NewRequest("POST", "/track", strings.NewReader(body)))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || !strings.Contains(resp.Error, "exceeds") {
		t.Errorf("Expected JSON size error, got %q (%v)", w.Body.String(), err)
	}
}

func TestTrackHandler_BodyAtLimit(t *testing.T) {
	var calls atomic.Int32
	s := newTestServer(resolve.LookupFunc(func(_ context.Context, id string) resolve.Outcome {
		calls.Add(1)
		return resolve.Success(resolve.Record{StatusDescription: "DELIVERED"})
	}))

	// A single identifier padded with whitespace to exactly the limit.
	body := "1ZA" + strings.Repeat(" ", maxRequestBytes-3)

	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, httptest.NewRequest("POST", "/track", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 lookup, got %d", calls.Load())
	}
}

func TestTrackHandler_PostBatch(t *testing.T) {
	var calls atomic.Int32
	s := newTestServer(resolve.LookupFunc(func(_ context.Context, id string) resolve.Outcome {
		calls.Add(1)
		switch id {
		case "MISSING":
			return resolve.Failure(resolve.ReasonNotFound, "")
		case "BROKEN":
			return resolve.Failure(resolve.ReasonUpstreamError, "500 boom")
		default:
			return resolve.Success(resolve.Record{City: "ATLANTA", StatusDescription: "DELIVERED"})
		}
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/track", strings.NewReader("1ZA\nMISSING, BROKEN\n1ZA"))
	s.routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	resp := decodeTrack(t, w.Body)
	if len(resp.Results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(resp.Results))
	}
	if calls.Load() != 4 {
		t.Errorf("Expected 4 lookups, got %d", calls.Load())
	}

	for i, r := range resp.Results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
	}

	if r := resp.Results[0]; r.Record == nil || r.Record.City != "ATLANTA" || r.Error != "" {
		t.Errorf("result 0 = %+v, want record", r)
	}
	if r := resp.Results[1]; r.Reason != resolve.ReasonNotFound || r.Error != "not_found" {
		t.Errorf("result 1 = %+v, want not_found with reason as error", r)
	}
	if r := resp.Results[2]; r.Reason != resolve.ReasonUpstreamError || r.Error != "500 boom" {
		t.Errorf("result 2 = %+v, want upstream_error", r)
	}
	if r := resp.Results[3]; r.TrackingNumber != "1ZA" || r.Record == nil {
		t.Errorf("result 3 = %+v, want duplicate resolved independently", r)
	}
	if resp.RequestID != w.Header().Get("X-Request-ID") {
		t.Errorf("requestId %q does not match header", resp.RequestID)
	}
}

func TestTrackHandler_RetriesExhausted(t *testing.T) {
	s := newTestServer(resolve.LookupFunc(func(context.Context, string) resolve.Outcome {
		return resolve.Failure(resolve.ReasonRateLimited, "429")
	}))
	s.resolve.MaxAttempts = 2

	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, httptest.NewRequest("GET", "/track?referenceNumber=1ZA", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	resp := decodeTrack(t, w.Body)
	if resp.Attempts != 2 || resp.Passes != 2 {
		t.Errorf("passes/attempts = %d/%d, want 2/2", resp.Passes, resp.Attempts)
	}
	if r := resp.Results[0]; r.Reason != resolve.ReasonRetriesExhausted {
		t.Errorf("reason = %q, want retries_exhausted", r.Reason)
	}
}

func TestTrackHandler_Cancelled(t *testing.T) {
	s := newTestServer(resolve.LookupFunc(func(context.Context, string) resolve.Outcome {
		return resolve.Failure(resolve.ReasonRateLimited, "429")
	}))
	s.resolve.Sleep = func(context.Context, time.Duration) error { return context.Canceled }

	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, httptest.NewRequest("GET", "/track?referenceNumber=1ZA", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
	resp := decodeTrack(t, w.Body)
	if len(resp.Results) != 1 || resp.Results[0].Reason != resolve.ReasonRetriesExhausted {
		t.Errorf("Expected one exhausted result, got %+v", resp.Results)
	}
}

func TestTrackHandler_WithMockCarrier(t *testing.T) {
	mock := testutil.NewMockUPS()
	defer mock.Close()

	mock.SetTracking("1Z999AA10123456784", testutil.NewTrackResponse("1Z999AA10123456784", testutil.DefaultActivity()))
	mock.SetTracking("PO-1", testutil.NewRateLimitResponse(), testutil.NewNoActivityResponse("PO-1"))

	cfg := client.DefaultConfig(testutil.DefaultClientID, testutil.DefaultClientPass)
	cfg.BaseURL = mock.URL()
	upsClient, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer upsClient.Close()

	s := newTestServer(upsClient)

	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, httptest.NewRequest("POST", "/track", strings.NewReader("1Z999AA10123456784,PO-1")))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	resp := decodeTrack(t, w.Body)
	if r := resp.Results[0]; r.Record == nil || r.Record.StatusDescription != "DELIVERED" {
		t.Errorf("result 0 = %+v, want delivered record", r)
	}
	if r := resp.Results[1]; r.Reason != resolve.ReasonNotFound {
		t.Errorf("result 1 = %+v, want not_found after retry", r)
	}
	if resp.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", resp.Attempts)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		t.Setenv("UPS_CLIENT_ID", "")
		t.Setenv("UPS_CLIENT_SECRET", "")

		if _, err := loadConfig(); !errors.Is(err, errMissingCredentials) {
			t.Errorf("loadConfig() error = %v, want errMissingCredentials", err)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("UPS_CLIENT_ID", "id")
		t.Setenv("UPS_CLIENT_SECRET", "secret")

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Port != "8080" {
			t.Errorf("Port = %q, want 8080", cfg.Port)
		}
		if cfg.Client.BaseURL != client.SandboxBaseURL {
			t.Errorf("BaseURL = %q, want sandbox", cfg.Client.BaseURL)
		}
		if cfg.Resolve.BatchSize != 10 || cfg.Resolve.MaxAttempts != 3 || cfg.Resolve.BaseDelay != 2*time.Second {
			t.Errorf("Resolve = %+v, want 10/3/2s", cfg.Resolve)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("UPS_CLIENT_ID", "id")
		t.Setenv("UPS_CLIENT_SECRET", "secret")
		t.Setenv("USE_PROD", "true")
		t.Setenv("UPS_TRANSACTION_SRC", "warehouse")
		t.Setenv("BATCH_SIZE", "5")
		t.Setenv("MAX_ATTEMPTS", "7")
		t.Setenv("BASE_DELAY", "500")
		t.Setenv("LOOKUP_TIMEOUT", "3s")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_PRETTY", "1")

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Client.BaseURL != client.ProductionBaseURL {
			t.Errorf("BaseURL = %q, want production", cfg.Client.BaseURL)
		}
		if cfg.Client.TransactionSrc != "warehouse" {
			t.Errorf("TransactionSrc = %q, want warehouse", cfg.Client.TransactionSrc)
		}
		if cfg.Resolve.BatchSize != 5 || cfg.Resolve.MaxAttempts != 7 {
			t.Errorf("BatchSize/MaxAttempts = %d/%d, want 5/7", cfg.Resolve.BatchSize, cfg.Resolve.MaxAttempts)
		}
		if cfg.Resolve.BaseDelay != 500*time.Millisecond {
			t.Errorf("BaseDelay = %v, want 500ms", cfg.Resolve.BaseDelay)
		}
		if cfg.Resolve.LookupTimeout != 3*time.Second {
			t.Errorf("LookupTimeout = %v, want 3s", cfg.Resolve.LookupTimeout)
		}
		if cfg.Logging.Level != logging.LevelDebug || !cfg.Logging.Pretty {
			t.Errorf("Logging = %+v, want debug/pretty", cfg.Logging)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		for key, value := range map[string]string{
			"BATCH_SIZE":   "many",
			"MAX_ATTEMPTS": "0",
			"BASE_DELAY":   "soon",
			"USE_PROD":     "maybe",
		} {
			t.Run(key, func(t *testing.T) {
				t.Setenv("UPS_CLIENT_ID", "id")
				t.Setenv("UPS_CLIENT_SECRET", "secret")
				t.Setenv(key, value)

				if _, err := loadConfig(); err == nil {
					t.Errorf("loadConfig() with %s=%q should fail", key, value)
				}
			})
		}
	})
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("localhost:6379")
	if err != nil || opts.Addr != "localhost:6379" {
		t.Errorf("redisOptions(addr) = %+v, %v", opts, err)
	}

	opts, err = redisOptions("redis://:pw@cache:6380/2")
	if err != nil {
		t.Fatalf("redisOptions(url) error = %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Errorf("redisOptions(url) = addr %q db %d", opts.Addr, opts.DB)
	}

	if _, err := redisOptions("redis://cache:6380/notadb"); err == nil {
		t.Error("expected error for invalid redis url")
	}
}
