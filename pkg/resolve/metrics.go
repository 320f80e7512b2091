package resolve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for resolution passes.
var (
	resolvePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_resolve_passes_total",
		Help: "Total dispatched batches by whether any lookup was rate limited",
	}, []string{"throttled"})

	backoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracking_backoff_seconds",
		Help:    "Backoff duration between throttled passes",
		Buckets: []float64{0.5, 1, 2, 4, 6, 10, 30},
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_outcomes_total",
		Help: "Final outcomes by reason (success for resolved records)",
	}, []string{"reason"})

	retriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_retries_exhausted_total",
		Help: "Identifiers still rate limited when the attempt budget ran out",
	})
)

func observeOutcome(o Outcome) {
	if o.OK() {
		outcomesTotal.WithLabelValues("success").Inc()
		return
	}
	outcomesTotal.WithLabelValues(string(o.Reason)).Inc()
}
