package domain

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	got    string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.got = text
	return s.result, s.err
}

type stubHealthyEmbedder struct {
	stubEmbedder
	healthErr error
}

func (s *stubHealthyEmbedder) HealthCheck(_ context.Context) error { return s.healthErr }

func TestInstructionEmbedder_PrependsInstruction(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	emb := NewInstructionEmbedder(inner, "a painting of ")

	result, err := emb.Embed(context.Background(), "a doctor")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.got != "a painting of a doctor" {
		t.Errorf("expected prepended text, got %q", inner.got)
	}
	if len(result.Embedding) != 3 {
		t.Errorf("expected 3-element vector, got %d", len(result.Embedding))
	}
}

func TestInstructionEmbedder_ErrorPropagation(t *testing.T) {
	inner := &stubEmbedder{err: ErrEmbeddingUnavailable}
	emb := NewInstructionEmbedder(inner, "x ")

	_, err := emb.Embed(context.Background(), "text")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected wrapped ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestInstructionEmbedder_HealthCheck(t *testing.T) {
	plain := NewInstructionEmbedder(&stubEmbedder{}, "x ")
	if err := plain.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected nil for embedder without health check, got %v", err)
	}

	down := errors.New("down")
	checked := NewInstructionEmbedder(&stubHealthyEmbedder{healthErr: down}, "x ")
	if err := checked.HealthCheck(context.Background()); !errors.Is(err, down) {
		t.Errorf("expected delegated error, got %v", err)
	}
}
