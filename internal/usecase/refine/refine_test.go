package refine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
)

// --- Mocks ---

type mockImages struct {
	missing map[string]bool
	loaded  []string
}

func (m *mockImages) Load(_ context.Context, id string) (domain.Image, error) {
	if m.missing[id] {
		return domain.Image{}, domain.ErrImageNotFound
	}
	m.loaded = append(m.loaded, id)
	return domain.Image{Name: id, MIME: "image/jpeg", Data: []byte(id)}, nil
}

type mockJudge struct {
	answer string
	tokens int
	err    error
	calls  int
	req    domain.JudgeRequest
}

func (m *mockJudge) Judge(_ context.Context, req domain.JudgeRequest) (domain.JudgeResult, error) {
	m.calls++
	m.req = req
	if m.err != nil {
		return domain.JudgeResult{}, m.err
	}
	return domain.JudgeResult{Text: m.answer, TotalTokens: m.tokens}, nil
}

// --- Helpers ---

func ranked(ids ...string) []result.Ranked {
	out := make([]result.Ranked, len(ids))
	for i, id := range ids {
		out[i] = result.New(id, float64(len(ids)-i), nil)
	}
	return out
}

func assertIDs(t *testing.T, got []result.Ranked, want ...string) {
	t.Helper()
	ids := result.IDs(got)
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, ids)
	}
}

// --- Tests ---

func TestRefine_LabelledAnswer(t *testing.T) {
	judge := &mockJudge{answer: "Image 1: No, Image 2: Yes, Image 3: Yes", tokens: 42}
	images := &mockImages{}
	p := NewPass(images)

	ctx, usage := domain.NewContextWithUsage(context.Background())
	rep, err := p.Refine(ctx, judge, "a red boat", ranked("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertIDs(t, rep.Kept, "b.jpg", "c.jpg")
	if rep.Outcome != OutcomeFiltered {
		t.Errorf("expected filtered, got %s", rep.Outcome)
	}
	if judge.req.Question != "a red boat" {
		t.Errorf("question not forwarded: %q", judge.req.Question)
	}
	if len(judge.req.Images) != 3 || judge.req.Images[0].Name != "a.jpg" {
		t.Errorf("images not forwarded in order: %+v", judge.req.Images)
	}
	if !strings.Contains(judge.req.Prompt, "3 images") {
		t.Errorf("prompt should mention the image count: %q", judge.req.Prompt)
	}
	if tokens, used := usage.Judge(); !used || tokens != 42 {
		t.Errorf("expected 42 judge tokens recorded, got %d (used=%v)", tokens, used)
	}
}

func TestRefine_JSONArrayAnswer(t *testing.T) {
	judge := &mockJudge{answer: `["Yes", "no", "YES"]`}
	p := NewPass(&mockImages{})

	rep, err := p.Refine(context.Background(), judge, "q", ranked("a", "b", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertIDs(t, rep.Kept, "a", "c")
}

func TestRefine_KeptAll(t *testing.T) {
	judge := &mockJudge{answer: `["Yes", "Yes"]`}
	p := NewPass(&mockImages{})

	rep, err := p.Refine(context.Background(), judge, "q", ranked("a", "b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Outcome != OutcomeKeptAll {
		t.Errorf("expected kept_all, got %s", rep.Outcome)
	}
	assertIDs(t, rep.Kept, "a", "b")
}

func TestRefine_MismatchFailsOpen(t *testing.T) {
	judge := &mockJudge{answer: `["No", "Yes"]`}
	p := NewPass(&mockImages{})

	in := ranked("a", "b", "c")
	rep, err := p.Refine(context.Background(), judge, "q", in)
	if !errors.Is(err, domain.ErrRefinementUnavailable) {
		t.Fatalf("expected ErrRefinementUnavailable, got %v", err)
	}
	var mis *domain.MisalignedVerdictsError
	if !errors.As(err, &mis) || mis.Candidates != 3 || mis.Verdicts != 2 {
		t.Errorf("expected MisalignedVerdictsError{3,2}, got %v", err)
	}
	if rep.Outcome != OutcomeFailOpen {
		t.Errorf("expected fail_open, got %s", rep.Outcome)
	}
	assertIDs(t, rep.Kept, "a", "b", "c")
}

func TestRefine_LabelOutOfOrderFailsOpen(t *testing.T) {
	judge := &mockJudge{answer: "Image 2: No, Image 1: Yes"}
	p := NewPass(&mockImages{})

	rep, err := p.Refine(context.Background(), judge, "q", ranked("a", "b"))
	if !errors.Is(err, domain.ErrRefinementUnavailable) {
		t.Fatalf("expected ErrRefinementUnavailable, got %v", err)
	}
	assertIDs(t, rep.Kept, "a", "b")
}

func TestRefine_EmptyIsNoop(t *testing.T) {
	judge := &mockJudge{}
	p := NewPass(&mockImages{})

	rep, err := p.Refine(context.Background(), judge, "q", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Kept) != 0 || rep.Outcome != OutcomeSkipped {
		t.Errorf("expected skipped empty report, got %+v", rep)
	}
	if judge.calls != 0 {
		t.Errorf("judge must not be called, got %d calls", judge.calls)
	}
}

func TestRefine_AboveLimitIsNoop(t *testing.T) {
	ids := make([]string, MaxCandidates+1)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	judge := &mockJudge{}
	images := &mockImages{}
	p := NewPass(images)

	rep, err := p.Refine(context.Background(), judge, "q", ranked(ids...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Outcome != OutcomeSkipped {
		t.Errorf("expected skipped, got %s", rep.Outcome)
	}
	assertIDs(t, rep.Kept, ids...)
	if judge.calls != 0 || len(images.loaded) != 0 {
		t.Error("nothing should be loaded or judged above the limit")
	}
}

func TestRefine_ExactlyAtLimitIsJudged(t *testing.T) {
	ids := make([]string, MaxCandidates)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	judge := &mockJudge{answer: strings.Repeat("Yes ", MaxCandidates)}
	p := NewPass(&mockImages{})

	if _, err := p.Refine(context.Background(), judge, "q", ranked(ids...)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if judge.calls != 1 {
		t.Errorf("expected one judge call, got %d", judge.calls)
	}
}

func TestRefine_JudgeError(t *testing.T) {
	judge := &mockJudge{err: errors.New("upstream 529")}
	p := NewPass(&mockImages{})

	rep, err := p.Refine(context.Background(), judge, "q", ranked("a", "b"))
	if !errors.Is(err, domain.ErrRefinementUnavailable) {
		t.Fatalf("expected ErrRefinementUnavailable, got %v", err)
	}
	if rep.Outcome != OutcomeError {
		t.Errorf("expected error outcome, got %s", rep.Outcome)
	}
	assertIDs(t, rep.Kept, "a", "b")
}

func TestRefine_MissingImage(t *testing.T) {
	judge := &mockJudge{answer: "Yes"}
	p := NewPass(&mockImages{missing: map[string]bool{"b": true}})

	rep, err := p.Refine(context.Background(), judge, "q", ranked("a", "b"))
	if !errors.Is(err, domain.ErrRefinementUnavailable) || !errors.Is(err, domain.ErrImageNotFound) {
		t.Fatalf("expected refinement unavailable caused by missing image, got %v", err)
	}
	if judge.calls != 0 {
		t.Error("judge must not be called when an image cannot be loaded")
	}
	assertIDs(t, rep.Kept, "a", "b")
}
