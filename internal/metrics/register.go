package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registeredMu sync.Mutex
	registered   = map[string]bool{}
)

// registerOnce registers a named group of collectors with the default registry.
func registerOnce(group string, cs ...prometheus.Collector) {
	registeredMu.Lock()
	defer registeredMu.Unlock()
	if registered[group] {
		return
	}
	prometheus.MustRegister(cs...)
	registered[group] = true
}

// RegisterAll registers every collector group. Called once from main.
func RegisterAll() {
	RegisterHTTPMetrics()
	RegisterEmbeddingMetrics()
	RegisterSearchMetrics()
	RegisterJudgeMetrics()
}
