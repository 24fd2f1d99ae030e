package judge

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/kailas-cloud/artsearch/internal/domain"
)

// RateLimitedJudge bounds the call rate of an inner judge.
// A caller whose deadline would pass before a token frees up fails fast.
type RateLimitedJudge struct {
	inner   domain.Judge
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a token bucket of perSec refill and burst size.
// perSec <= 0 disables limiting and returns inner unchanged.
func NewRateLimited(inner domain.Judge, perSec float64, burst int) domain.Judge {
	if perSec <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedJudge{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Judge waits for a limiter token, then delegates.
func (j *RateLimitedJudge) Judge(ctx context.Context, req domain.JudgeRequest) (domain.JudgeResult, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return domain.JudgeResult{}, fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	}
	return j.inner.Judge(ctx, req) //nolint:wrapcheck // decorator
}

// HealthCheck delegates without waiting for a token.
func (j *RateLimitedJudge) HealthCheck(ctx context.Context) error {
	if hc, ok := j.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // decorator
	}
	return nil
}
