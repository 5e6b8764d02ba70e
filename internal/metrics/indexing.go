package metrics

import "github.com/prometheus/client_golang/prometheus"

// Indexing and query Prometheus metrics.
var (
	SyncTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchbridge",
			Name:      "sync_tasks_total",
			Help:      "Total number of processed sync tasks",
		},
		[]string{"op", "status"},
	)

	DocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchbridge",
			Name:      "documents_indexed_total",
			Help:      "Total number of documents written to engines",
		},
		[]string{"index", "engine"},
	)

	ImportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchbridge",
			Name:      "import_duration_seconds",
			Help:      "Full index import duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"index", "engine", "mode"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchbridge",
			Name:      "search_duration_seconds",
			Help:      "Engine search round-trip duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"index", "engine"},
	)

	EngineErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchbridge",
			Name:      "engine_errors_total",
			Help:      "Total engine-level failures",
		},
		[]string{"index", "engine", "op"},
	)
)

var indexingMetricsRegistered bool

// RegisterIndexingMetrics registers the indexing metrics. Must be called once from main.
func RegisterIndexingMetrics() {
	if indexingMetricsRegistered {
		return
	}
	prometheus.MustRegister(SyncTasksTotal)
	prometheus.MustRegister(DocumentsIndexedTotal)
	prometheus.MustRegister(ImportDuration)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(EngineErrorsTotal)
	indexingMetricsRegistered = true
}
