package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/ups-track-resolver/pkg/logging"
	"github.com/Sternrassler/ups-track-resolver/pkg/metrics"
	"github.com/Sternrassler/ups-track-resolver/pkg/resolve"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// maxRequestBytes bounds POST /track bodies.
const maxRequestBytes = 1 << 20

// server holds the dependencies of the HTTP handlers.
type server struct {
	lookup  resolve.Lookuper
	resolve resolve.Config
	redis   *redis.Client
	logger  zerolog.Logger
}

// trackResult is the flattened per-identifier view returned to callers.
type trackResult struct {
	Index          int             `json:"index"`
	TrackingNumber string          `json:"trackingNumber"`
	Record         *resolve.Record `json:"record,omitempty"`
	Error          string          `json:"error,omitempty"`
	Reason         resolve.Reason  `json:"reason,omitempty"`
}

type trackResponse struct {
	RequestID string        `json:"requestId"`
	Results   []trackResult `json:"results"`
	Passes    int           `json:"passes"`
	Attempts  int           `json:"attempts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// routes registers the server endpoints.
func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/track", s.trackHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready once the optional Redis backend answers.
func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "READY")
}

// trackHandler resolves the identifiers given as ?referenceNumber= (GET) or as
// a newline or comma separated body (POST).
func (s *server) trackHandler(w http.ResponseWriter, r *http.Request) {
	var raw string
	switch r.Method {
	case http.MethodGet:
		raw = r.URL.Query().Get("referenceNumber")
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
					Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
			return
		}
		raw = string(body)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	ids := parseIdentifiers(raw)
	if len(ids) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing tracking number or reference"})
		return
	}

	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	cfg := s.resolve
	cfg.Logger = logging.WithRequest(s.logger, requestID)

	rs, err := resolve.Resolve(r.Context(), ids, s.lookup, cfg)
	status := http.StatusOK
	switch {
	case errors.Is(err, resolve.ErrContextCancelled):
		cfg.Logger.Warn().Err(err).Msg("Resolution cancelled")
		status = http.StatusServiceUnavailable
	case err != nil:
		cfg.Logger.Error().Err(err).Msg("Resolution failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, status, flatten(requestID, rs))
}

// flatten converts a result set into the response shape.
func flatten(requestID string, rs *resolve.ResultSet) trackResponse {
	resp := trackResponse{
		RequestID: requestID,
		Results:   make([]trackResult, 0, rs.Len()),
		Passes:    rs.Passes,
		Attempts:  rs.Attempts,
	}

	for _, r := range rs.Results {
		tr := trackResult{Index: r.Index, TrackingNumber: r.Identifier}
		if r.Outcome.OK() {
			tr.Record = r.Outcome.Record
		} else {
			tr.Reason = r.Outcome.Reason
			tr.Error = r.Outcome.Detail
			if tr.Error == "" {
				tr.Error = string(r.Outcome.Reason)
			}
		}
		resp.Results = append(resp.Results, tr)
	}

	return resp
}

// parseIdentifiers splits free text on newlines and commas, trims every
// entry and drops empties. Order and duplicates are kept.
func parseIdentifiers(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})

	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if id := strings.TrimSpace(f); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.NewLogger("track-server").Error().Err(err).Msg("Failed to write response")
	}
}
