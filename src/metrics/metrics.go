package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradeledger"

var (
	// PipelineSubmissions counts submit outcomes. gate is empty for approvals.
	PipelineSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Order intents evaluated by the admission pipeline",
		},
		[]string{"outcome", "gate"},
	)

	PipelineLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "latency_seconds",
			Help:      "Time spent evaluating the admission gates",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "trips_total",
			Help:      "Circuit breaker trips by entity type and category",
		},
		[]string{"entity_type", "category"},
	)

	CircuitBreakerResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "resets_total",
			Help:      "Operator resets of tripped circuit breakers",
		},
		[]string{"entity_type"},
	)

	FillsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fills_recorded_total",
			Help:      "Fills appended to the ledger",
		},
		[]string{"venue", "mode"},
	)

	PendingOrdersExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pending_orders_expired_total",
			Help:      "Pending orders moved to expired by the TTL sweep",
		},
	)

	PendingOrdersPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pending_orders_purged_total",
			Help:      "Terminal pending orders deleted after retention",
		},
	)
)

// Mode labels a fill as paper or live.
func Mode(paper bool) string {
	if paper {
		return "paper"
	}
	return "live"
}
