package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval and vector store metrics.
var (
	VectorSearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_search_requests_total",
			Help:      "Total number of vector store searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vector_search_duration_seconds",
			Help:      "Vector store search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"collection"},
	)

	VectorSearchHitsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_search_hits_dropped_total",
			Help:      "Search hits dropped for a missing or invalid image_path payload",
		},
		[]string{"collection"},
	)

	RetrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total retrievals by search mode and error kind (empty when successful)",
		},
		[]string{"mode", "error"},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval duration in seconds, refinement included",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	ResultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_total",
			Help:      "Retrieval result cache hits and misses",
		},
		[]string{"result"},
	)
)

// RegisterSearchMetrics registers retrieval and vector store metrics.
func RegisterSearchMetrics() {
	registerOnce("search",
		VectorSearchRequestsTotal,
		VectorSearchDuration,
		VectorSearchHitsDropped,
		RetrievalsTotal,
		RetrievalDuration,
		ResultCacheTotal,
	)
}
