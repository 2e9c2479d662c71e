package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AppendsTotal counts sealed entries by action.
	AppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "audit_appends_total",
			Help:      "Total audit entries sealed, by action.",
		},
		[]string{"action"},
	)

	// AppendDuration observes seal-and-persist latency.
	AppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "meridian",
			Name:      "audit_append_duration_seconds",
			Help:      "Audit append duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
	)

	appendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "audit_append_failures_total",
			Help:      "Total audit appends rejected by the store.",
		},
	)

	chainFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "audit_chain_verification_failures_total",
			Help:      "Total chain verification failures detected.",
		},
	)

	lastSequenceGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meridian",
			Name:      "audit_last_sequence",
			Help:      "Sequence number of the most recently sealed entry.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AppendsTotal,
		AppendDuration,
		appendFailures,
		chainFailures,
		lastSequenceGauge,
	)
}

func observeAppend(action string, start time.Time) {
	AppendsTotal.WithLabelValues(action).Inc()
	AppendDuration.Observe(time.Since(start).Seconds())
}
