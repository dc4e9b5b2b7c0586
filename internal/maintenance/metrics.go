package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	normalizeRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelterql_normalize_runs_total",
			Help: "Total number of outcome normalization runs by status.",
		},
		[]string{"status"},
	)
	outcomesNormalizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shelterql_outcomes_normalized_total",
			Help: "Total number of NULL outcome types rewritten to Unknown.",
		},
	)
	reportObjectsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shelterql_report_objects_deleted_total",
			Help: "Total number of archived report objects deleted by retention runs.",
		},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelterql_report_integrity_runs_total",
			Help: "Total number of report archive integrity runs by status.",
		},
		[]string{"status"},
	)
	integrityMissingObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shelterql_report_integrity_missing_objects_total",
			Help: "Total number of missing or empty report objects detected by integrity runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		normalizeRunsTotal,
		outcomesNormalizedTotal,
		reportObjectsDeletedTotal,
		integrityRunsTotal,
		integrityMissingObjectsTotal,
	)
}
