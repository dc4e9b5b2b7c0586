package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelterql_ask_total",
			Help: "Total number of questions processed by outcome.",
		},
		[]string{"outcome"},
	)
	askLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelterql_ask_latency_seconds",
			Help:    "End-to-end latency of a question, including the optional summary.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		},
	)
	stageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelterql_stage_failures_total",
			Help: "Total number of pipeline failures by stage.",
		},
		[]string{"stage"},
	)
	modelLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelterql_model_latency_seconds",
			Help:    "Language model call latency by purpose.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"purpose"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelterql_query_duration_seconds",
			Help:    "Analytical query execution latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sqlRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelterql_sql_repairs_total",
			Help: "Total number of generated SQL statements rewritten, by repair rule.",
		},
		[]string{"rule"},
	)
	validationRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shelterql_validation_runs_total",
			Help: "Total number of validation harness runs.",
		},
	)
	validationPassRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelterql_validation_pass_ratio",
			Help: "Pass fraction of the most recent validation run.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		askTotal,
		askLatencySeconds,
		stageFailuresTotal,
		modelLatencySeconds,
		queryDurationSeconds,
		sqlRepairsTotal,
		validationRunsTotal,
		validationPassRatio,
	)
}

func ObserveAsk(outcome string, elapsed time.Duration) {
	askTotal.WithLabelValues(outcome).Inc()
	askLatencySeconds.Observe(elapsed.Seconds())
}

func IncrementStageFailure(stage string) {
	stageFailuresTotal.WithLabelValues(stage).Inc()
}

func ObserveModelLatency(purpose string, elapsed time.Duration) {
	modelLatencySeconds.WithLabelValues(purpose).Observe(elapsed.Seconds())
}

func ObserveQueryDuration(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementSQLRepair(rule string) {
	sqlRepairsTotal.WithLabelValues(rule).Inc()
}

func ObserveValidationRun(passed, total int) {
	validationRunsTotal.Inc()
	if total <= 0 {
		validationPassRatio.Set(0)
		return
	}
	validationPassRatio.Set(float64(passed) / float64(total))
}
