package metrics

import "github.com/prometheus/client_golang/prometheus"

// LLM judge metrics.
var (
	JudgeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_requests_total",
			Help:      "Total number of judge calls",
		},
		[]string{"judge", "status"},
	)

	JudgeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_request_duration_seconds",
			Help:      "Judge call duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"judge"},
	)

	JudgeTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_tokens_total",
			Help:      "Total tokens consumed by judge calls",
		},
		[]string{"judge"},
	)

	RefinementOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refinement_outcomes_total",
			Help:      "Refinement pass outcomes: kept_all, filtered, fail_open, skipped, error",
		},
		[]string{"judge", "outcome"},
	)
)

// RegisterJudgeMetrics registers judge and refinement metrics.
func RegisterJudgeMetrics() {
	registerOnce("judge",
		JudgeRequestsTotal,
		JudgeRequestDuration,
		JudgeTokensTotal,
		RefinementOutcomesTotal,
	)
}
