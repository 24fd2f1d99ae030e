package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/metrics"
)

// DefaultTimeout bounds a single judge call.
const DefaultTimeout = 120 * time.Second

// InstrumentedJudge adds a deadline, a token budget, metrics and logging to a judge.
// Every error it returns wraps domain.ErrRefinementUnavailable.
type InstrumentedJudge struct {
	inner   domain.Judge
	name    string
	timeout time.Duration
	budget  *BudgetTracker
	logger  *zap.Logger
}

// NewInstrumented wraps inner. budget may be nil.
func NewInstrumented(
	inner domain.Judge, name string, timeout time.Duration,
	budget *BudgetTracker, logger *zap.Logger,
) *InstrumentedJudge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &InstrumentedJudge{inner: inner, name: name, timeout: timeout, budget: budget, logger: logger}
}

// Name returns the configured judge name.
func (j *InstrumentedJudge) Name() string { return j.name }

// HealthCheck delegates to the inner judge when it can check itself.
func (j *InstrumentedJudge) HealthCheck(ctx context.Context) error {
	hc, ok := j.inner.(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("judge %s: %w", j.name, err)
	}
	return nil
}

// Judge runs the inner judge under the configured deadline.
func (j *InstrumentedJudge) Judge(ctx context.Context, req domain.JudgeRequest) (domain.JudgeResult, error) {
	if j.budget != nil {
		if err := j.budget.Check(ctx); err != nil {
			metrics.JudgeRequestsTotal.WithLabelValues(j.name, "quota_exceeded").Inc()
			j.logger.Warn("Judge budget exhausted", zap.String("judge", j.name), zap.Error(err))
			return domain.JudgeResult{}, fmt.Errorf("%w: %w", domain.ErrRefinementUnavailable, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	res, err := j.inner.Judge(ctx, req)
	duration := time.Since(start)
	metrics.JudgeRequestDuration.WithLabelValues(j.name).Observe(duration.Seconds())

	if err != nil {
		status := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = "timeout"
		case errors.Is(err, domain.ErrRateLimited):
			status = "rate_limited"
		}
		metrics.JudgeRequestsTotal.WithLabelValues(j.name, status).Inc()
		j.logger.Error("Judge request failed",
			zap.String("judge", j.name),
			zap.Int("images", len(req.Images)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrRefinementUnavailable) {
			return domain.JudgeResult{}, err
		}
		return domain.JudgeResult{}, fmt.Errorf("%w: judge %s: %w", domain.ErrRefinementUnavailable, j.name, err)
	}

	metrics.JudgeRequestsTotal.WithLabelValues(j.name, "success").Inc()
	if res.TotalTokens > 0 {
		metrics.JudgeTokensTotal.WithLabelValues(j.name).Add(float64(res.TotalTokens))
		if j.budget != nil {
			j.budget.Record(int64(res.TotalTokens))
		}
	}

	j.logger.Debug("Judge request completed",
		zap.String("judge", j.name),
		zap.Int("images", len(req.Images)),
		zap.Duration("duration", duration),
		zap.Int("total_tokens", res.TotalTokens),
	)
	return res, nil
}
