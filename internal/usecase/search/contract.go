package search

import (
	"context"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/search/candidate"
	"github.com/kailas-cloud/artsearch/internal/domain/search/request"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
	"github.com/kailas-cloud/artsearch/internal/usecase/refine"
)

// Embedder vectorizes the question text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// VectorSearcher runs one nearest-neighbour search and returns typed hits.
type VectorSearcher interface {
	Search(ctx context.Context, req request.Request) ([]candidate.Hit, error)
}

// Refiner filters a fused ranking with a judge.
type Refiner interface {
	Refine(ctx context.Context, j domain.Judge, question string, ranked []result.Ranked) (refine.Report, error)
}

// JudgeResolver maps a caller's model selector onto a configured judge.
type JudgeResolver interface {
	Resolve(selector string) (string, domain.Judge, error)
}

// ResultCache stores finished retrievals.
type ResultCache interface {
	Get(ctx context.Context, key string) (result.Snapshot, bool)
	Put(ctx context.Context, key string, snap result.Snapshot)
}
