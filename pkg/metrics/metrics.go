// Package metrics exposes the Prometheus registry shared by the resolver, the
// tracking client and the throttle tracker. Metrics are defined in their
// respective packages (resolve, client, ratelimit) and registered via promauto.
package metrics

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gatherer reads back the default registry that promauto registers with.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Families returns the sorted names of the metric families g currently holds.
// Labelled metrics only appear once a label combination has been observed.
func Families(g prometheus.Gatherer) ([]string, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	sort.Strings(names)
	return names, nil
}

// Metrics Documentation
//
// Resolver Metrics (pkg/resolve):
//   - tracking_resolve_passes_total{throttled} (Counter): Passes by whether any lookup was rate limited
//   - tracking_backoff_seconds (Histogram): Delay slept after each throttled pass
//   - tracking_outcomes_total{reason} (Counter): Final outcomes by reason ("success" for records)
//   - tracking_retries_exhausted_total (Counter): Identifiers still rate limited when the budget ran out
//
// Request Metrics (pkg/client):
//   - tracking_requests_total{kind, status} (Counter): Requests by kind (details, reference) and HTTP status
//   - tracking_request_duration_seconds{kind} (Histogram): Request duration by kind
//   - tracking_errors_total{class} (Counter): Errors by class (rate_limit, not_found, upstream, transport)
//
// Throttle Metrics (pkg/ratelimit):
//   - tracking_upstream_throttles_total (Counter): Rate limited responses recorded
//   - tracking_rate_limit_blocks_total (Counter): Requests held back during a shared cooldown
//   - tracking_cooldown_seconds (Gauge): Most recently recorded cooldown
//
// Example Prometheus Queries:
//
//   # Share of passes that were throttled
//   sum(rate(tracking_resolve_passes_total{throttled="true"}[5m])) /
//   sum(rate(tracking_resolve_passes_total[5m]))
//
//   # Exhausted identifiers
//   increase(tracking_retries_exhausted_total[1h]) > 0
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(tracking_request_duration_seconds_bucket[5m]))
