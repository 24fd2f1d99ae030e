package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/artsearch/internal/logger"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component is failing.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names used in reports.
const (
	VectorStore = "vector_store"
	Embedding   = "embedding"
	Cache       = "cache"
	// JudgePrefix prefixes the per-judge component names.
	JudgePrefix = "judge_"
)

// DefaultTimeout bounds every individual check.
const DefaultTimeout = 5 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type namedCheck struct {
	name    string
	checker Checker
}

// Service coordinates health checks.
type Service struct {
	vectorStore Checker
	optional    []namedCheck
	timeout     time.Duration
}

// New creates a Service around the required vector store check.
func New(vectorStore Checker) *Service {
	return &Service{vectorStore: vectorStore, timeout: DefaultTimeout}
}

// WithCheck adds an optional component. A nil checker is ignored.
func (s *Service) WithCheck(name string, c Checker) *Service {
	if c != nil {
		s.optional = append(s.optional, namedCheck{name: name, checker: c})
	}
	return s
}

// WithTimeout overrides the per-check timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs all checks concurrently.
func (s *Service) Check(ctx context.Context) Report {
	all := append([]namedCheck{{name: VectorStore, checker: s.vectorStore}}, s.optional...)

	var mu sync.Mutex
	checks := make(map[string]CheckResult, len(all))
	var g errgroup.Group
	for _, c := range all {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			res := CheckOK
			if err := c.checker.HealthCheck(cctx); err != nil {
				res = CheckError
				logger.FromContext(ctx).Warn("Health check failed",
					zap.String("component", c.name), zap.Error(err))
			}
			mu.Lock()
			checks[c.name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := Healthy
	for name, v := range checks {
		if v != CheckError {
			continue
		}
		if name == VectorStore {
			status = Unhealthy
			break
		}
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}
