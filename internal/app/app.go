// Package app wires configuration into the retrieval stack shared by the
// HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/artsearch/internal/config"
	"github.com/kailas-cloud/artsearch/internal/db"
	dbRedis "github.com/kailas-cloud/artsearch/internal/db/redis"
	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/metrics"
	budgetrepo "github.com/kailas-cloud/artsearch/internal/repository/budget"
	"github.com/kailas-cloud/artsearch/internal/repository/embcache"
	"github.com/kailas-cloud/artsearch/internal/repository/imagestore"
	"github.com/kailas-cloud/artsearch/internal/repository/qdrant"
	"github.com/kailas-cloud/artsearch/internal/repository/resultcache"
	openaiTransport "github.com/kailas-cloud/artsearch/internal/transport/openai"
	"github.com/kailas-cloud/artsearch/internal/usecase/fusion"
	healthuc "github.com/kailas-cloud/artsearch/internal/usecase/health"
	judgeuc "github.com/kailas-cloud/artsearch/internal/usecase/judge"
	"github.com/kailas-cloud/artsearch/internal/usecase/refine"
	searchuc "github.com/kailas-cloud/artsearch/internal/usecase/search"
)

// App is the assembled retrieval stack.
type App struct {
	Search *searchuc.Service
	Health *healthuc.Service
	Judges *judgeuc.Registry

	closers []func()
	logger  *zap.Logger
}

// Build connects to the configured backends and assembles the orchestrator.
// Redis is optional; without it caches are memory-only and judge budgets are per-process.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	// Pass a nil interface (not a typed nil pointer) when Redis is not configured.
	var store db.Store
	if len(cfg.Cache.RedisAddrs) > 0 {
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.RedisAddrs,
			Username: cfg.Cache.Username,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		if err := s.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis not ready: %w", err)
		}
		store = s
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Cache.RedisAddrs))
	}

	vectors, err := qdrant.New(qdrant.Config{
		Addr:    cfg.Qdrant.Addr,
		APIKey:  cfg.Qdrant.APIKey,
		TLS:     cfg.Qdrant.TLS,
		Timeout: time.Duration(cfg.Qdrant.TimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := vectors.Close(); err != nil {
			logger.Warn("Closing qdrant client", zap.Error(err))
		}
	})

	embedder := buildEmbedder(cfg, store, logger)

	policy, err := fusion.ParsePolicy(cfg.Search.Normalization)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("search.normalization: %w", err)
	}
	a.Search = searchuc.New(embedder, vectors, SearchConfig(cfg, policy))

	if len(cfg.Judges) > 0 {
		images, err := imagestore.New(cfg.Images.Root)
		if err != nil {
			// Retrieval keeps working without refinement.
			logger.Warn("Image root unavailable, refinement disabled",
				zap.String("root", cfg.Images.Root), zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = images.Close() })
			a.Judges = BuildJudges(ctx, cfg, store, logger)
			a.Search.WithRefinement(refine.NewPass(images), a.Judges)
			logger.Info("Refinement enabled",
				zap.Strings("judges", a.Judges.Names()),
				zap.String("default_judge", cfg.DefaultJudge))
		}
	}

	if cfg.Search.CacheSize > 0 {
		var kv db.KVStore
		if store != nil {
			kv = store
		}
		a.Search.WithCache(resultcache.New(kv, resultcache.Options{
			Size:       cfg.Search.CacheSize,
			TTL:        time.Duration(cfg.Search.CacheTTLSec) * time.Second,
			KeyPrefix:  cfg.Cache.KeyPrefix,
			CacheTotal: metrics.ResultCacheTotal,
		}, logger))
	}

	a.Health = healthuc.New(vectors).WithCheck(healthuc.Embedding, embeddingHealthChecker{embedder})
	if store != nil {
		a.Health.WithCheck(healthuc.Cache, healthuc.PingChecker{Pinger: store})
	}
	addJudgeChecks(a.Health, a.Judges)
	return a, nil
}

// addJudgeChecks registers every judge that can check itself as an optional
// component. A failing judge degrades the report but never makes it unhealthy.
func addJudgeChecks(h *healthuc.Service, reg *judgeuc.Registry) {
	if reg == nil {
		return
	}
	for _, name := range reg.Names() {
		_, j, err := reg.Resolve(name)
		if err != nil {
			continue
		}
		if hc, ok := j.(domain.HealthChecker); ok {
			h.WithCheck(healthuc.JudgePrefix+name, hc)
		}
	}
}

// Close releases every backend connection, most recent first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// SearchConfig maps configuration onto the orchestrator settings.
func SearchConfig(cfg *config.Config, policy fusion.Policy) searchuc.Config {
	retries := 0
	if cfg.Search.RetryAttempts != nil {
		retries = *cfg.Search.RetryAttempts
	}
	return searchuc.Config{
		ImageCollection: cfg.Search.ImageCollection,
		ImageVector:     cfg.Search.ImageVector,
		TextCollection:  cfg.Search.TextCollection,
		TextVector:      cfg.Search.TextVector,
		Overfetch:       cfg.Search.Overfetch,
		Normalization:   policy,
		RetryAttempts:   retries,
		RetryBackoff:    time.Duration(cfg.Search.RetryBackoffMs) * time.Millisecond,
	}
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instruction.
func buildEmbedder(cfg *config.Config, store db.Store, logger *zap.Logger) domain.Embedder {
	e := cfg.Embedding
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     e.APIKey,
		BaseURL:    e.BaseURL,
		Model:      e.Model,
		Dimensions: e.Dimensions,
		Timeout:    time.Duration(e.TimeoutSec) * time.Second,
		Provider:   e.Provider,
		Logger:     logger,
	})

	var kv db.KVStore
	if store != nil {
		kv = store
	}
	var embedder domain.Embedder = embcache.New(base, kv, embcache.Options{
		Model:      e.Model,
		KeyPrefix:  cfg.Cache.KeyPrefix,
		MemorySize: e.CacheSize,
		TTL:        time.Duration(e.CacheTTLSec) * time.Second,
		CacheTotal: metrics.EmbeddingCacheTotal,
	}, logger)

	// Outermost, so the cache key includes the instruction.
	if e.Instruction != "" {
		embedder = domain.NewInstructionEmbedder(embedder, e.Instruction)
	}
	return embedder
}

// BuildJudges creates one decorated judge per configured name:
// chat client -> rate limit -> budget, deadline and metrics.
func BuildJudges(ctx context.Context, cfg *config.Config, store db.Store, logger *zap.Logger) *judgeuc.Registry {
	reg := judgeuc.NewRegistry(cfg.DefaultJudge)
	for _, name := range cfg.JudgeNames() {
		jc := cfg.Judges[name]
		base := openaiTransport.NewJudge(&openaiTransport.JudgeConfig{
			APIKey:    jc.APIKey,
			BaseURL:   jc.BaseURL,
			Model:     jc.Model,
			MaxTokens: jc.MaxTokens,
			Logger:    logger,
		})

		var budget *judgeuc.BudgetTracker
		if jc.DailyTokenBudget > 0 {
			budget = judgeuc.NewBudgetTracker(name, jc.DailyTokenBudget, logger)
			if store != nil {
				budget.WithStore(ctx, budgetrepo.New(store, budgetrepo.DefaultTTL), cfg.Cache.KeyPrefix)
			}
		}

		limited := judgeuc.NewRateLimited(base, jc.RatePerSec, jc.Burst)
		reg.Register(name, judgeuc.NewInstrumented(
			limited, name, time.Duration(jc.TimeoutSec)*time.Second, budget, logger,
		))
	}
	return reg
}

// embeddingHealthChecker adapts domain.Embedder to health.Checker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func (h embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
