package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/query"
	"github.com/kailas-cloud/artsearch/internal/domain/search/candidate"
	"github.com/kailas-cloud/artsearch/internal/domain/search/mode"
	"github.com/kailas-cloud/artsearch/internal/domain/search/request"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
	"github.com/kailas-cloud/artsearch/internal/logger"
	"github.com/kailas-cloud/artsearch/internal/metrics"
	"github.com/kailas-cloud/artsearch/internal/usecase/fusion"
	"github.com/kailas-cloud/artsearch/internal/usecase/refine"
)

const tracerName = "github.com/kailas-cloud/artsearch/internal/usecase/search"

// Config describes the two collections and the retrieval policy.
type Config struct {
	ImageCollection string
	ImageVector     string
	TextCollection  string
	TextVector      string
	// Overfetch multiplies k for the text search; < 1 means fusion.Overfetch.
	Overfetch     int
	Normalization fusion.Policy
	// RetryAttempts is the number of retries after the first failed call.
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Response is the outcome of one retrieval. Result is never nil.
// Err is set when no ranking could be produced. RefinementErr is set when a
// requested refinement failed and Result is the unrefined ranking.
type Response struct {
	Result []string
	Scores []float64
	// Ranked holds the entries behind Result with their supporting candidates.
	// It is nil for cached responses.
	Ranked        []result.Ranked
	Mode          mode.Mode
	Judge         string
	Refinement    refine.Outcome
	Cached        bool
	Err           error
	RefinementErr error
}

// Service is the query orchestrator: it routes a query to one or both
// modalities, fuses the rankings and optionally refines them with a judge.
type Service struct {
	embed   Embedder
	store   VectorSearcher
	refiner Refiner
	judges  JudgeResolver
	cache   ResultCache
	cfg     Config
}

// New creates a search service.
func New(embed Embedder, store VectorSearcher, cfg Config) *Service {
	if cfg.Overfetch < 1 {
		cfg.Overfetch = fusion.Overfetch
	}
	if cfg.Normalization == "" {
		cfg.Normalization = fusion.None
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	return &Service{embed: embed, store: store, cfg: cfg}
}

// WithRefinement enables the refinement step.
func (s *Service) WithRefinement(r Refiner, judges JudgeResolver) *Service {
	s.refiner = r
	s.judges = judges
	return s
}

// WithCache enables result caching.
func (s *Service) WithCache(c ResultCache) *Service {
	s.cache = c
	return s
}

// Retrieve answers one query. It never panics on provider failures and
// always returns a response; see Response for the error contract.
func (s *Service) Retrieve(ctx context.Context, p query.Params) Response {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "search.Retrieve")
	defer span.End()

	q, err := query.New(p)
	if err != nil {
		s.observe(span, start, "none", err)
		return Response{Result: []string{}, Err: err}
	}
	m := q.Mode()
	ctx = logger.WithFields(ctx, zap.String("mode", string(m)), zap.Int("k", q.K()))
	span.SetAttributes(
		attribute.String("search.mode", string(m)),
		attribute.Int("search.k", q.K()),
		attribute.Float64("search.weight", q.Weight()),
	)

	if s.cache != nil {
		if snap, ok := s.cache.Get(ctx, q.Key()); ok {
			span.SetAttributes(attribute.Bool("search.cached", true))
			s.observe(span, start, m, nil)
			return Response{
				Result:     snap.IDs,
				Scores:     snap.Scores,
				Mode:       m,
				Refinement: refine.Outcome(snap.Refinement),
				Cached:     true,
			}
		}
	}

	ranked, err := s.rank(ctx, q)
	if err != nil {
		s.observe(span, start, m, err)
		logger.FromContext(ctx).Warn("Retrieval failed", zap.Error(err))
		return Response{Result: []string{}, Mode: m, Err: err}
	}

	resp := Response{Mode: m}
	if q.Refine() {
		ranked, resp.Judge, resp.Refinement, resp.RefinementErr = s.refine(ctx, q, ranked)
	}
	resp.Ranked = ranked
	resp.Result = result.IDs(ranked)
	resp.Scores = scores(ranked)

	logger.FromContext(ctx).Info("Retrieval finished",
		zap.Float64("weight", q.Weight()),
		zap.Int("results", len(resp.Result)),
		zap.String("refinement", string(resp.Refinement)),
	)
	s.observe(span, start, m, nil)

	if s.cache != nil && cacheable(resp.Refinement) {
		s.cache.Put(ctx, q.Key(), result.Snapshot{
			IDs:        resp.Result,
			Scores:     resp.Scores,
			Mode:       string(m),
			Refinement: string(resp.Refinement),
		})
	}
	return resp
}

// rank embeds the question and runs the route chosen by the query weight.
func (s *Service) rank(ctx context.Context, q query.Query) ([]result.Ranked, error) {
	var emb domain.EmbeddingResult
	err := s.retry(ctx, "embed", func(ctx context.Context) error {
		var err error
		emb, err = s.embed.Embed(ctx, q.Question())
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return nil, fmt.Errorf("vectorize question: %w", err)
	}
	domain.UsageFromContext(ctx).AddEmbeddingTokens(emb.TotalTokens)

	k := q.K()
	switch q.Mode() {
	case mode.Image:
		cands, err := s.searchModality(ctx, candidate.Image, emb.Embedding, k)
		if err != nil {
			return nil, err
		}
		return fusion.Single(cands, k) //nolint:wrapcheck // domain sentinel
	case mode.Text:
		cands, err := s.searchModality(ctx, candidate.Text, emb.Embedding, fusion.TextLimit(k, s.cfg.Overfetch))
		if err != nil {
			return nil, err
		}
		return fusion.Single(cands, k) //nolint:wrapcheck // domain sentinel
	case mode.Fused:
		var text, image []candidate.Candidate
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			text, err = s.searchModality(gctx, candidate.Text, emb.Embedding, fusion.TextLimit(k, s.cfg.Overfetch))
			return err
		})
		g.Go(func() error {
			var err error
			image, err = s.searchModality(gctx, candidate.Image, emb.Embedding, k)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err //nolint:wrapcheck // already wrapped per modality
		}
		return fusion.Weighted(text, image, q.Weights(), k, s.cfg.Normalization) //nolint:wrapcheck // domain sentinel
	default:
		return nil, fmt.Errorf("unsupported search mode %q: %w", q.Mode(), domain.ErrInternalFusion)
	}
}

func (s *Service) searchModality(
	ctx context.Context, m candidate.Modality, vector []float32, limit int,
) ([]candidate.Candidate, error) {
	req := request.Request{
		Vector:        vector,
		Limit:         limit,
		PayloadFields: request.DefaultPayloadFields,
	}
	switch m {
	case candidate.Image:
		req.Collection, req.VectorName = s.cfg.ImageCollection, s.cfg.ImageVector
	default:
		req.Collection, req.VectorName = s.cfg.TextCollection, s.cfg.TextVector
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "search.modality",
		trace.WithAttributes(
			attribute.String("search.modality", string(m)),
			attribute.String("search.collection", req.Collection),
			attribute.Int("search.limit", limit),
		))
	defer span.End()

	var hits []candidate.Hit
	err := s.retry(ctx, "search "+req.Collection, func(ctx context.Context) error {
		var err error
		hits, err = s.store.Search(ctx, req)
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s search: %w", m, err)
	}

	cands := make([]candidate.Candidate, len(hits))
	for i, h := range hits {
		cands[i] = candidate.FromHit(m, h)
	}
	return cands, nil
}

// refine runs the refinement pass. Any failure keeps the unrefined ranking
// and is returned as a domain.ErrRefinementUnavailable error.
func (s *Service) refine(
	ctx context.Context, q query.Query, ranked []result.Ranked,
) ([]result.Ranked, string, refine.Outcome, error) {
	log := logger.FromContext(ctx)
	if s.refiner == nil || s.judges == nil {
		log.Warn("Refinement requested but no judge is configured",
			zap.String("llm", q.RefinementModel()))
		metrics.RefinementOutcomesTotal.WithLabelValues("none", string(refine.OutcomeError)).Inc()
		return ranked, "", refine.OutcomeError,
			fmt.Errorf("no judge configured for %q: %w", q.RefinementModel(), domain.ErrRefinementUnavailable)
	}

	name, j, err := s.judges.Resolve(q.RefinementModel())
	if err != nil {
		log.Warn("Refinement judge unavailable", zap.String("llm", q.RefinementModel()), zap.Error(err))
		metrics.RefinementOutcomesTotal.WithLabelValues("none", string(refine.OutcomeError)).Inc()
		return ranked, "", refine.OutcomeError, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "search.refine",
		trace.WithAttributes(
			attribute.String("refine.judge", name),
			attribute.Int("refine.candidates", len(ranked)),
		))
	defer span.End()

	report, err := s.refiner.Refine(ctx, j, q.Question(), ranked)
	metrics.RefinementOutcomesTotal.WithLabelValues(name, string(report.Outcome)).Inc()
	span.SetAttributes(attribute.String("refine.outcome", string(report.Outcome)))
	log.Debug("Judge answer",
		zap.String("judge", name),
		zap.String("answer", report.Answer),
		zap.Bools("verdicts", keeps(report.Verdicts)),
	)
	if err != nil {
		span.RecordError(err)
		log.Warn("Refinement failed, returning unrefined ranking",
			zap.String("judge", name),
			zap.String("outcome", string(report.Outcome)),
			zap.Error(err),
		)
		if !errors.Is(err, domain.ErrRefinementUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrRefinementUnavailable, err)
		}
		return ranked, name, report.Outcome, err
	}
	return report.Kept, name, report.Outcome, nil
}

func keeps(vs []refine.Verdict) []bool {
	out := make([]bool, len(vs))
	for i, v := range vs {
		out[i] = v.Keep
	}
	return out
}

// retry calls fn until it succeeds, fails with something other than a search
// unavailability, or runs out of attempts. The backoff doubles every retry.
// A context that ends while waiting returns the last failure joined with ctx.Err().
func (s *Service) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if b.MaxInterval < s.cfg.RetryBackoff {
		b.MaxInterval = s.cfg.RetryBackoff
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.RetryAttempts)), ctx)

	var last error
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !errors.Is(err, domain.ErrSearchUnavailable) {
			last = nil
			return backoff.Permanent(err)
		}
		last = err
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.FromContext(ctx).Warn("Retrying after search failure",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	if err != nil && last != nil && ctx.Err() != nil && !errors.Is(err, domain.ErrSearchUnavailable) {
		return fmt.Errorf("%w: %w", last, err)
	}
	return err //nolint:wrapcheck // callers wrap
}

func (s *Service) observe(span trace.Span, start time.Time, m mode.Mode, err error) {
	label := string(m)
	if label == "" {
		label = "none"
	}
	metrics.RetrievalsTotal.WithLabelValues(label, domain.Kind(err)).Inc()
	metrics.RetrievalDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Kind(err))
	}
}

// cacheable reports whether a response may be served again; degraded
// refinements are not.
func cacheable(o refine.Outcome) bool {
	return o != refine.OutcomeError && o != refine.OutcomeFailOpen
}

func scores(rs []result.Ranked) []float64 {
	out := make([]float64, len(rs))
	for i := range rs {
		out[i] = rs[i].Score()
	}
	return out
}
