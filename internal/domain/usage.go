package domain

import (
	"context"
	"sync"
)

type usageKey struct{}

// Usage collects provider token usage for a single request.
// The handler puts a mutable pointer into the context before calling the service;
// the embedder and judge write to it; the handler reads it for response headers.
// Modality searches may embed concurrently, so writes are guarded.
type Usage struct {
	mu              sync.Mutex
	embeddingTokens int
	judgeTokens     int
	embedded        bool
	judged          bool
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// AddEmbeddingTokens records tokens consumed by the embedding provider.
func (u *Usage) AddEmbeddingTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.embeddingTokens += n
	u.embedded = true
	u.mu.Unlock()
}

// AddJudgeTokens records tokens consumed by the LLM judge.
func (u *Usage) AddJudgeTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.judgeTokens += n
	u.judged = true
	u.mu.Unlock()
}

// Embedding returns embedding tokens and whether the embedder was called at all
// (a cache hit reports zero tokens but still counts as used).
func (u *Usage) Embedding() (tokens int, used bool) {
	if u == nil {
		return 0, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.embeddingTokens, u.embedded
}

// Judge returns judge tokens and whether the judge was called.
func (u *Usage) Judge() (tokens int, used bool) {
	if u == nil {
		return 0, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.judgeTokens, u.judged
}
