// Package observability holds the engine's domain-level Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	planSavedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "plan_engine",
		Subsystem: "persistence",
		Name:      "last_plan_saved_timestamp_seconds",
		Help:      "Unix timestamp of the most recent plan persisted to Postgres.",
	}, []string{"kind"})

	regenerationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plan_engine",
		Subsystem: "plans",
		Name:      "regenerations_total",
		Help:      "Regeneration requests by plan kind and outcome.",
	}, []string{"kind", "outcome"})

	feastTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plan_engine",
		Subsystem: "banking",
		Name:      "feast_transitions_total",
		Help:      "Feast mode transitions by resulting state.",
	}, []string{"state"})

	mealSkipCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plan_engine",
		Subsystem: "banking",
		Name:      "meal_skips_total",
		Help:      "Skipped meals by recorded override status.",
	}, []string{"status"})

	oracleLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "plan_engine",
		Subsystem: "oracle",
		Name:      "generate_duration_seconds",
		Help:      "Latency of plan generation calls by kind and result.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"kind", "result"})
)

func init() {
	prometheus.MustRegister(planSavedGauge, regenerationCounter, feastTransitionCounter, mealSkipCounter, oracleLatency)
}

// RecordPlanSaved updates the persistence watermark for kind.
func RecordPlanSaved(kind string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	planSavedGauge.WithLabelValues(kind).Set(float64(ts.Unix()))
}

// RecordRegeneration counts a regeneration request outcome such as generated, choice_required or failed.
func RecordRegeneration(kind, outcome string) {
	regenerationCounter.WithLabelValues(kind, outcome).Inc()
}

// RecordFeastTransition counts a move into state.
func RecordFeastTransition(state string) {
	feastTransitionCounter.WithLabelValues(state).Inc()
}

// RecordMealSkip counts a skipped meal by status.
func RecordMealSkip(status string) {
	mealSkipCounter.WithLabelValues(status).Inc()
}

// RecordOracleCall observes a generation call that started at start.
func RecordOracleCall(kind string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	oracleLatency.WithLabelValues(kind, result).Observe(time.Since(start).Seconds())
}
