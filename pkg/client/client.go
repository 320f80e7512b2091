// Package client provides the UPS tracking client used as the resolver's
// lookup capability, with OAuth client-credentials authentication, failure
// classification and optional shared throttle gating.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/ups-track-resolver/pkg/ratelimit"
	"github.com/Sternrassler/ups-track-resolver/pkg/resolve"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Carrier environments.
const (
	SandboxBaseURL    = "https://wwwcie.ups.com"
	ProductionBaseURL = "https://onlinetools.ups.com"

	tokenPath      = "/security/v1/oauth/token"
	trackingPrefix = "1Z"

	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 4 << 20
)

// Request kinds, used as metric labels.
const (
	KindDetails   = "details"
	KindReference = "reference"
)

// Prometheus metrics for tracking requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_requests_total",
		Help: "Total tracking requests by kind and status",
	}, []string{"kind", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracking_request_duration_seconds",
		Help:    "Tracking request duration in seconds by kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_errors_total",
		Help: "Total tracking errors by class",
	}, []string{"class"})
)

// Client performs single-identifier tracking lookups.
type Client struct {
	httpClient  *http.Client
	oauth       *clientcredentials.Config
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger

	tokenMu    sync.Mutex
	token      *oauth2.Token
	tokenFetch singleflight.Group
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the carrier API root (SandboxBaseURL or ProductionBaseURL).
	BaseURL string

	// TokenURL defaults to BaseURL + "/security/v1/oauth/token".
	TokenURL string

	// OAuth client credentials (REQUIRED)
	ClientID     string
	ClientSecret string

	// TransactionSrc is sent in the transactionSrc header.
	TransactionSrc string

	// Locale is sent as the locale query parameter.
	Locale string

	// ReferenceWindowDays is how far back reference lookups search by pickup date.
	ReferenceWindowDays int

	// Redis enables shared throttle tracking across instances (optional).
	Redis *redis.Client

	// Timeout for a single HTTP exchange.
	Timeout time.Duration
}

// DefaultConfig returns a sandbox configuration for the given credentials.
func DefaultConfig(clientID, clientSecret string) Config {
	return Config{
		BaseURL:             SandboxBaseURL,
		ClientID:            clientID,
		ClientSecret:        clientSecret,
		TransactionSrc:      "ups-track-resolver",
		Locale:              "en_US",
		ReferenceWindowDays: 14,
		Timeout:             30 * time.Second,
	}
}

// New creates a new tracking client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client id and client secret are required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.TokenURL == "" {
		cfg.TokenURL = cfg.BaseURL + tokenPath
	}
	if cfg.Locale == "" {
		cfg.Locale = "en_US"
	}
	if cfg.ReferenceWindowDays <= 0 {
		cfg.ReferenceWindowDays = 14
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "ups-client").Logger()

	c := &Client{
		config: cfg,
		logger: logger,
		oauth: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, log.With().Str("component", "rate-limit").Logger())
	}

	c.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})

	return c, nil
}

// SetHTTPClient sets a custom HTTP client, used for both token and tracking
// requests. The cached token is dropped.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.httpClient = httpClient
	c.token = nil
}

// accessToken returns a valid cached token or fetches a new one. Concurrent
// callers share one fetch. The fetch is bounded by Config.Timeout and outlives
// a caller whose ctx ends first, so its token is cached for the next lookup.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	c.tokenMu.Lock()
	tok, httpClient := c.token, c.httpClient
	c.tokenMu.Unlock()
	if tok.Valid() {
		return tok, nil
	}

	ch := c.tokenFetch.DoChan("token", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
		defer cancel()

		tok, err := c.oauth.Token(context.WithValue(fetchCtx, oauth2.HTTPClient, httpClient))
		if err != nil {
			return nil, err
		}

		c.tokenMu.Lock()
		c.token = tok
		c.tokenMu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

// Lookup implements resolve.Lookuper.
func (c *Client) Lookup(ctx context.Context, id string) resolve.Outcome {
	rec, err := c.Track(ctx, id)
	if err != nil {
		return OutcomeFromError(err)
	}
	return resolve.Success(*rec)
}

// Track looks up one tracking number or reference and returns its latest
// activity. Failures are returned as *TrackError.
func (c *Client) Track(ctx context.Context, id string) (*resolve.Record, error) {
	kind := RequestKind(id)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check shared cooldown
	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Throttle state unavailable, sending request")
		} else if !allowed {
			requestsTotal.WithLabelValues(kind, "held").Inc()
			return nil, c.fail(kind, &TrackError{ErrorClass: ErrorClassRateLimit, Message: "request held", Err: ErrCooldown})
		}
	}

	// Step 2: Build request
	req, err := c.newTrackRequest(ctx, kind, id)
	if err != nil {
		return nil, c.fail(kind, &TrackError{ErrorClass: ErrorClassTransport, Message: "create request", Err: err})
	}

	// Step 3: Authenticate
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, c.fail(kind, tokenError(err))
	}
	token.SetAuthHeader(req)

	c.logger.Debug().
		Str("identifier", id).
		Str("kind", kind).
		Str("trans_id", req.Header.Get("transId")).
		Msg("Executing tracking request")

	// Step 4: Execute
	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(kind, "network_error").Inc()
		return nil, c.fail(kind, &TrackError{ErrorClass: ErrorClassTransport, Message: "request failed", Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	requestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()
	if err != nil {
		return nil, c.fail(kind, &TrackError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassTransport, Message: "read body", Err: err})
	}

	// Step 5: Classify
	switch class := Classify(resp.StatusCode, body, nil); class {
	case ErrorClassRateLimit:
		if c.rateLimiter != nil {
			if err := c.rateLimiter.RecordThrottle(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record throttle state")
			}
		}
		return nil, c.fail(kind, &TrackError{StatusCode: resp.StatusCode, ErrorClass: class, Message: errorMessage(body)})
	case ErrorClassUpstream:
		return nil, c.fail(kind, &TrackError{StatusCode: resp.StatusCode, ErrorClass: class, Message: errorMessage(body)})
	}

	// Step 6: Normalize
	rec, err := Normalize(body)
	switch {
	case errors.Is(err, ErrNoActivity):
		return nil, c.fail(kind, &TrackError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNotFound, Message: err.Error()})
	case err != nil:
		return nil, c.fail(kind, &TrackError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassTransport, Message: "decode response", Err: err})
	}

	c.logger.Debug().
		Str("identifier", id).
		Str("status", rec.StatusDescription).
		Msg("Tracking request succeeded")

	return rec, nil
}

// fail records metrics and logs a classified failure.
func (c *Client) fail(kind string, te *TrackError) error {
	errorsTotal.WithLabelValues(string(te.ErrorClass)).Inc()

	event := c.logger.Warn()
	if te.ErrorClass == ErrorClassNotFound {
		event = c.logger.Debug()
	}
	event.
		Str("kind", kind).
		Int("status", te.StatusCode).
		Str("error_class", string(te.ErrorClass)).
		Err(te).
		Msg("Tracking request failed")

	return te
}

// tokenError classifies a token acquisition failure. A throttled token
// endpoint counts as a rate limit so the identifier is retried.
func tokenError(err error) *TrackError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		class := Classify(re.Response.StatusCode, re.Body, nil)
		if class == "" {
			class = ErrorClassUpstream
		}
		return &TrackError{StatusCode: re.Response.StatusCode, ErrorClass: class, Message: "token request rejected", Err: err}
	}
	return &TrackError{ErrorClass: ErrorClassTransport, Message: "token request failed", Err: err}
}

// RequestKind returns KindDetails for tracking numbers and KindReference for
// everything else.
func RequestKind(id string) string {
	if strings.HasPrefix(id, trackingPrefix) {
		return KindDetails
	}
	return KindReference
}

func (c *Client) newTrackRequest(ctx context.Context, kind, id string) (*http.Request, error) {
	query := url.Values{}
	query.Set("locale", c.config.Locale)

	var path string
	if kind == KindDetails {
		path = "/api/track/v1/details/" + url.PathEscape(id)
		query.Set("returnSignature", "false")
		query.Set("returnMilestones", "false")
		query.Set("returnPOD", "false")
	} else {
		path = "/api/track/v1/reference/details/" + url.PathEscape(id)
		query.Set("fromPickUpDate", fmt.Sprintf("currentDate-%d", c.config.ReferenceWindowDays))
		query.Set("toPickUpDate", "currentDate")
		query.Set("refNumType", "SmallPackage")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("transId", uuid.NewString())
	req.Header.Set("transactionSrc", c.config.TransactionSrc)
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
