package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/query"
	"github.com/kailas-cloud/artsearch/internal/domain/search/candidate"
	"github.com/kailas-cloud/artsearch/internal/domain/search/mode"
	"github.com/kailas-cloud/artsearch/internal/domain/search/request"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
	"github.com/kailas-cloud/artsearch/internal/metrics"
	"github.com/kailas-cloud/artsearch/internal/usecase/fusion"
	"github.com/kailas-cloud/artsearch/internal/usecase/refine"
)

func TestMain(m *testing.M) {
	metrics.RegisterSearchMetrics()
	metrics.RegisterJudgeMetrics()
	os.Exit(m.Run())
}

const (
	imageColl = "images"
	textColl  = "texts"
)

// --- Mocks ---

type mockEmbedder struct {
	errs   []error
	calls  int
	tokens int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return domain.EmbeddingResult{}, err
		}
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}, TotalTokens: m.tokens}, nil
}

type mockStore struct {
	mu    sync.Mutex
	hits  map[string][]candidate.Hit
	errs  map[string][]error
	calls map[string]int
	reqs  map[string]request.Request
}

func newMockStore() *mockStore {
	return &mockStore{
		hits:  map[string][]candidate.Hit{},
		errs:  map[string][]error{},
		calls: map[string]int{},
		reqs:  map[string]request.Request{},
	}
}

func (m *mockStore) Search(_ context.Context, req request.Request) ([]candidate.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[req.Collection]++
	m.reqs[req.Collection] = req
	if errs := m.errs[req.Collection]; len(errs) > 0 {
		m.errs[req.Collection] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	return m.hits[req.Collection], nil
}

type mockRefiner struct {
	keep    map[string]bool
	outcome refine.Outcome
	err     error
	called  bool
}

func (m *mockRefiner) Refine(
	_ context.Context, _ domain.Judge, _ string, ranked []result.Ranked,
) (refine.Report, error) {
	m.called = true
	if m.err != nil {
		return refine.Report{Kept: ranked, Outcome: m.outcome}, m.err
	}
	kept := make([]result.Ranked, 0, len(ranked))
	for i := range ranked {
		if m.keep[ranked[i].ID()] {
			kept = append(kept, ranked[i])
		}
	}
	return refine.Report{Kept: kept, Outcome: m.outcome}, nil
}

type mockJudge struct{}

func (mockJudge) Judge(_ context.Context, _ domain.JudgeRequest) (domain.JudgeResult, error) {
	return domain.JudgeResult{}, nil
}

type mockResolver struct {
	name     string
	err      error
	selector string
}

func (m *mockResolver) Resolve(selector string) (string, domain.Judge, error) {
	m.selector = selector
	if m.err != nil {
		return "", nil, m.err
	}
	return m.name, mockJudge{}, nil
}

type mockCache struct {
	entries map[string]result.Snapshot
	puts    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: map[string]result.Snapshot{}}
}

func (m *mockCache) Get(_ context.Context, key string) (result.Snapshot, bool) {
	s, ok := m.entries[key]
	return s, ok
}

func (m *mockCache) Put(_ context.Context, key string, snap result.Snapshot) {
	m.puts++
	m.entries[key] = snap
}

// --- Helpers ---

func hit(t *testing.T, id string, score float64) candidate.Hit {
	t.Helper()
	h, err := candidate.NewHit(score, map[string]any{candidate.PayloadImagePath: id})
	if err != nil {
		t.Fatalf("NewHit(%q): %v", id, err)
	}
	return h
}

func testConfig() Config {
	return Config{
		ImageCollection: imageColl,
		ImageVector:     "image_vector",
		TextCollection:  textColl,
		TextVector:      "text_vector",
		RetryAttempts:   2,
	}
}

func assertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

// --- Tests ---

func TestRetrieve_EmptyQuestion(t *testing.T) {
	emb := &mockEmbedder{}
	svc := New(emb, newMockStore(), testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "  "})
	if !errors.Is(resp.Err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", resp.Err)
	}
	if resp.Result == nil || len(resp.Result) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", resp.Result)
	}
	if emb.calls != 0 {
		t.Error("embedder must not be called for an invalid request")
	}
}

func TestRetrieve_ImageOnly(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9), hit(t, "B", 0.8), hit(t, "C", 0.5)}
	svc := New(&mockEmbedder{}, store, testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", K: 2})
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	assertIDs(t, resp.Result, "A", "B")
	if resp.Mode != mode.Image {
		t.Errorf("expected image mode, got %s", resp.Mode)
	}
	if store.calls[textColl] != 0 {
		t.Error("image-only route must not query the text collection")
	}
	req := store.reqs[imageColl]
	if req.Limit != 2 || req.VectorName != "image_vector" {
		t.Errorf("unexpected image request %+v", req)
	}
}

func TestRetrieve_TextOnlyGroupsSections(t *testing.T) {
	store := newMockStore()
	store.hits[textColl] = []candidate.Hit{hit(t, "img1", 0.7), hit(t, "img1", 0.6), hit(t, "img2", 0.5)}
	svc := New(&mockEmbedder{}, store, testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", K: 3, Weight: 1})
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	assertIDs(t, resp.Result, "img1", "img2")
	if math.Abs(resp.Scores[0]-1.3) > 1e-9 {
		t.Errorf("expected img1 = 1.3, got %v", resp.Scores[0])
	}
	if store.calls[imageColl] != 0 {
		t.Error("text-only route must not query the image collection")
	}
	if got := store.reqs[textColl].Limit; got != 3*fusion.Overfetch {
		t.Errorf("expected overfetched text limit %d, got %d", 3*fusion.Overfetch, got)
	}
}

func TestRetrieve_Fused(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.8)}
	store.hits[textColl] = []candidate.Hit{hit(t, "A", 0.6), hit(t, "B", 0.9)}
	svc := New(&mockEmbedder{}, store, testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", K: 2, Weight: 0.5})
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	assertIDs(t, resp.Result, "A", "B")
	if math.Abs(resp.Scores[0]-0.7) > 1e-9 || math.Abs(resp.Scores[1]-0.45) > 1e-9 {
		t.Errorf("expected scores [0.7 0.45], got %v", resp.Scores)
	}
	if resp.Mode != mode.Fused {
		t.Errorf("expected fused mode, got %s", resp.Mode)
	}
	if store.reqs[imageColl].Limit != 2 || store.reqs[textColl].Limit != 10 {
		t.Errorf("unexpected limits image=%d text=%d", store.reqs[imageColl].Limit, store.reqs[textColl].Limit)
	}
}

func TestRetrieve_SearchUnavailable(t *testing.T) {
	store := newMockStore()
	down := fmt.Errorf("%w: connection refused", domain.ErrSearchUnavailable)
	store.errs[imageColl] = []error{down, down, down}
	svc := New(&mockEmbedder{}, store, testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat"})
	if !errors.Is(resp.Err, domain.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", resp.Err)
	}
	if len(resp.Result) != 0 {
		t.Errorf("no partial ranking expected, got %v", resp.Result)
	}
	if store.calls[imageColl] != 3 {
		t.Errorf("expected 1 call + 2 retries, got %d", store.calls[imageColl])
	}
}

func TestRetrieve_RetryRecovers(t *testing.T) {
	store := newMockStore()
	store.errs[imageColl] = []error{fmt.Errorf("%w: timeout", domain.ErrSearchUnavailable)}
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9)}
	cfg := testConfig()
	cfg.RetryBackoff = time.Millisecond
	svc := New(&mockEmbedder{}, store, cfg)

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat"})
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	assertIDs(t, resp.Result, "A")
	if store.calls[imageColl] != 2 {
		t.Errorf("expected 2 calls, got %d", store.calls[imageColl])
	}
}

func TestRetrieve_NonRetryableError(t *testing.T) {
	store := newMockStore()
	store.errs[imageColl] = []error{errors.New("boom")}
	svc := New(&mockEmbedder{}, store, testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat"})
	if resp.Err == nil {
		t.Fatal("expected error")
	}
	if store.calls[imageColl] != 1 {
		t.Errorf("expected no retries, got %d calls", store.calls[imageColl])
	}
}

func TestRetrieve_FusedFailsWhenOneModalityFails(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.8)}
	store.errs[textColl] = []error{fmt.Errorf("%w: down", domain.ErrSearchUnavailable)}
	cfg := testConfig()
	cfg.RetryAttempts = 0
	svc := New(&mockEmbedder{}, store, cfg)

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", Weight: 0.5})
	if !errors.Is(resp.Err, domain.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", resp.Err)
	}
	if len(resp.Result) != 0 {
		t.Errorf("no partial fusion expected, got %v", resp.Result)
	}
}

func TestRetrieve_EmbeddingUnavailable(t *testing.T) {
	emb := &mockEmbedder{errs: []error{domain.ErrEmbeddingUnavailable, domain.ErrEmbeddingUnavailable, domain.ErrEmbeddingUnavailable}}
	store := newMockStore()
	svc := New(emb, store, testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat"})
	if !errors.Is(resp.Err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", resp.Err)
	}
	if emb.calls != 3 {
		t.Errorf("expected 3 embed attempts, got %d", emb.calls)
	}
	if store.calls[imageColl] != 0 {
		t.Error("store must not be called without a vector")
	}
}

func TestRetrieve_CancelledDuringBackoff(t *testing.T) {
	store := newMockStore()
	down := fmt.Errorf("%w: down", domain.ErrSearchUnavailable)
	store.errs[imageColl] = []error{down, down, down}
	cfg := testConfig()
	cfg.RetryBackoff = time.Hour
	svc := New(&mockEmbedder{}, store, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	resp := svc.Retrieve(ctx, query.Params{Question: "boat"})
	if !errors.Is(resp.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", resp.Err)
	}
	if !errors.Is(resp.Err, domain.ErrSearchUnavailable) {
		t.Errorf("expected the search failure to be kept, got %v", resp.Err)
	}
}

func TestRetrieve_RecordsEmbeddingUsage(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9)}
	svc := New(&mockEmbedder{tokens: 12}, store, testConfig())

	ctx, usage := domain.NewContextWithUsage(context.Background())
	svc.Retrieve(ctx, query.Params{Question: "boat"})
	if tokens, used := usage.Embedding(); tokens != 12 || !used {
		t.Errorf("expected 12 embedding tokens, got %d (used=%v)", tokens, used)
	}
}

func TestRetrieve_Refinement(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9), hit(t, "B", 0.8), hit(t, "C", 0.7)}
	ref := &mockRefiner{keep: map[string]bool{"A": true, "C": true}, outcome: refine.OutcomeFiltered}
	res := &mockResolver{name: "gpt-5"}
	svc := New(&mockEmbedder{}, store, testConfig()).WithRefinement(ref, res)

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", K: 3, RefinementModel: "gpt-5"})
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	assertIDs(t, resp.Result, "A", "C")
	if resp.Judge != "gpt-5" || resp.Refinement != refine.OutcomeFiltered {
		t.Errorf("unexpected refinement %s/%s", resp.Judge, resp.Refinement)
	}
	if res.selector != "gpt-5" {
		t.Errorf("expected selector to reach the resolver, got %q", res.selector)
	}
}

func TestRetrieve_NoRefinementWithoutModel(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9)}
	ref := &mockRefiner{}
	svc := New(&mockEmbedder{}, store, testConfig()).WithRefinement(ref, &mockResolver{name: "j"})

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat"})
	if ref.called {
		t.Error("refiner must not run without a model selector")
	}
	if resp.Refinement != "" {
		t.Errorf("expected no refinement outcome, got %q", resp.Refinement)
	}
}

func TestRetrieve_RefinementFailureKeepsRanking(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9), hit(t, "B", 0.8)}
	ref := &mockRefiner{err: domain.ErrRefinementUnavailable, outcome: refine.OutcomeError}
	cache := newMockCache()
	svc := New(&mockEmbedder{}, store, testConfig()).
		WithRefinement(ref, &mockResolver{name: "claude"}).
		WithCache(cache)

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", K: 2, RefinementModel: "claude"})
	if resp.Err != nil {
		t.Fatalf("refinement failure must not fail the request: %v", resp.Err)
	}
	if !errors.Is(resp.RefinementErr, domain.ErrRefinementUnavailable) {
		t.Errorf("expected ErrRefinementUnavailable indicator, got %v", resp.RefinementErr)
	}
	assertIDs(t, resp.Result, "A", "B")
	if resp.Refinement != refine.OutcomeError {
		t.Errorf("expected error outcome, got %q", resp.Refinement)
	}
	if cache.puts != 0 {
		t.Error("degraded refinement must not be cached")
	}
}

func TestRetrieve_RefinementFailOpenIsReported(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9), hit(t, "B", 0.8), hit(t, "C", 0.7)}
	ref := &mockRefiner{err: domain.NewMisalignedVerdicts(3, 2), outcome: refine.OutcomeFailOpen}
	svc := New(&mockEmbedder{}, store, testConfig()).WithRefinement(ref, &mockResolver{name: "gpt-5"})

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", K: 3, RefinementModel: "gpt-5"})
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	var mis *domain.MisalignedVerdictsError
	if !errors.As(resp.RefinementErr, &mis) {
		t.Errorf("expected misaligned verdicts to be reported, got %v", resp.RefinementErr)
	}
	assertIDs(t, resp.Result, "A", "B", "C")
}

func TestRetrieve_SuccessfulRefinementHasNoError(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9)}
	ref := &mockRefiner{keep: map[string]bool{"A": true}, outcome: refine.OutcomeKeptAll}
	svc := New(&mockEmbedder{}, store, testConfig()).WithRefinement(ref, &mockResolver{name: "gpt-5"})

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", RefinementModel: "gpt-5"})
	if resp.RefinementErr != nil {
		t.Errorf("unexpected refinement error: %v", resp.RefinementErr)
	}
}

func TestRetrieve_RankedKeepsSupport(t *testing.T) {
	store := newMockStore()
	section := func(id, title, text string, score float64) candidate.Hit {
		h, err := candidate.NewHit(score, map[string]any{
			candidate.PayloadImagePath:   id,
			candidate.PayloadTitle:       title,
			candidate.PayloadSectionText: text,
		})
		if err != nil {
			t.Fatalf("NewHit: %v", err)
		}
		return h
	}
	store.hits[textColl] = []candidate.Hit{
		section("img1", "Storm", "waves", 0.7),
		section("img1", "Storm", "sky", 0.6),
	}
	svc := New(&mockEmbedder{}, store, testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "sea", K: 1, Weight: 1})
	if len(resp.Ranked) != 1 {
		t.Fatalf("expected 1 ranked entry, got %d", len(resp.Ranked))
	}
	support := resp.Ranked[0].Support()
	if len(support) != 1 || len(support[0].Hits()) != 2 {
		t.Fatalf("expected one text candidate with two sections, got %+v", support)
	}
	if support[0].Hits()[1].SectionText() != "sky" || support[0].Hits()[0].Title() != "Storm" {
		t.Errorf("unexpected hits %+v", support[0].Hits())
	}
}

func TestRetrieve_RefinementWithoutJudges(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9)}
	svc := New(&mockEmbedder{}, store, testConfig())

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", RefinementModel: "gpt-5"})
	if resp.Err != nil {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
	assertIDs(t, resp.Result, "A")
	if resp.Refinement != refine.OutcomeError {
		t.Errorf("expected error outcome, got %q", resp.Refinement)
	}
	if !errors.Is(resp.RefinementErr, domain.ErrRefinementUnavailable) {
		t.Errorf("expected ErrRefinementUnavailable indicator, got %v", resp.RefinementErr)
	}
}

func TestRetrieve_UnresolvedJudge(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9)}
	ref := &mockRefiner{}
	res := &mockResolver{err: domain.ErrRefinementUnavailable}
	svc := New(&mockEmbedder{}, store, testConfig()).WithRefinement(ref, res)

	resp := svc.Retrieve(context.Background(), query.Params{Question: "boat", RefinementModel: "x"})
	assertIDs(t, resp.Result, "A")
	if ref.called {
		t.Error("refiner must not run without a judge")
	}
	if !errors.Is(resp.RefinementErr, domain.ErrRefinementUnavailable) {
		t.Errorf("expected ErrRefinementUnavailable indicator, got %v", resp.RefinementErr)
	}
}

func TestRetrieve_Cache(t *testing.T) {
	store := newMockStore()
	store.hits[imageColl] = []candidate.Hit{hit(t, "A", 0.9), hit(t, "B", 0.8)}
	emb := &mockEmbedder{}
	cache := newMockCache()
	svc := New(emb, store, testConfig()).WithCache(cache)

	first := svc.Retrieve(context.Background(), query.Params{Question: "boat", K: 2})
	second := svc.Retrieve(context.Background(), query.Params{Question: "boat", K: 2})

	if first.Cached || !second.Cached {
		t.Errorf("expected miss then hit, got %v %v", first.Cached, second.Cached)
	}
	assertIDs(t, second.Result, "A", "B")
	if emb.calls != 1 || store.calls[imageColl] != 1 {
		t.Errorf("cache hit must skip providers: embed=%d search=%d", emb.calls, store.calls[imageColl])
	}
	if second.Mode != mode.Image {
		t.Errorf("expected image mode on cache hit, got %s", second.Mode)
	}
}

func TestRetrieve_ErrorsAreNotCached(t *testing.T) {
	store := newMockStore()
	store.errs[imageColl] = []error{errors.New("boom")}
	cache := newMockCache()
	svc := New(&mockEmbedder{}, store, testConfig()).WithCache(cache)

	svc.Retrieve(context.Background(), query.Params{Question: "boat"})
	if cache.puts != 0 {
		t.Error("failed retrievals must not be cached")
	}
}

func TestNew_Defaults(t *testing.T) {
	svc := New(&mockEmbedder{}, newMockStore(), Config{RetryAttempts: -1})
	if svc.cfg.Overfetch != fusion.Overfetch {
		t.Errorf("expected default overfetch, got %d", svc.cfg.Overfetch)
	}
	if svc.cfg.Normalization != fusion.None {
		t.Errorf("expected no normalization, got %q", svc.cfg.Normalization)
	}
	if svc.cfg.RetryAttempts != 0 {
		t.Errorf("expected retries clamped to 0, got %d", svc.cfg.RetryAttempts)
	}
}
