package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for claim arbitration health.
var (
	OrdersAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exclusive_orders_admitted_total",
			Help: "Total number of exclusive orders admitted for arbitration",
		},
	)

	ClaimAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_attempts_total",
			Help: "Total number of claim attempts by outcome",
		},
		[]string{"outcome"},
	)

	ClaimLedgerErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_ledger_errors_total",
			Help: "Total number of transient claim ledger failures",
		},
	)

	ClaimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claim_attempt_duration_seconds",
			Help:    "Duration of claim attempts including the ledger round trip",
			Buckets: prometheus.DefBuckets,
		},
	)

	OrdersExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exclusive_orders_expired_total",
			Help: "Total number of exclusive orders forfeited unclaimed",
		},
	)

	SchedulerRearmFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_rearm_failures_total",
			Help: "Total number of deadline handler failures requiring a re-arm; a growing value means orders may be stuck un-expired",
		},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of lifecycle events dropped on full subscriber buffers",
		},
	)
)

// Register registers all arbitration metrics.
func Register() {
	prometheus.MustRegister(OrdersAdmittedTotal)
	prometheus.MustRegister(ClaimAttemptsTotal)
	prometheus.MustRegister(ClaimLedgerErrorsTotal)
	prometheus.MustRegister(ClaimDuration)
	prometheus.MustRegister(OrdersExpiredTotal)
	prometheus.MustRegister(SchedulerRearmFailuresTotal)
	prometheus.MustRegister(EventsDroppedTotal)
}
