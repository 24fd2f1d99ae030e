package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestEmbeddingUnavailable_IsSearchUnavailable(t *testing.T) {
	err := fmt.Errorf("embed query: %w", ErrEmbeddingUnavailable)
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Error("expected embedding failure to match ErrSearchUnavailable")
	}
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Error("expected embedding failure to match ErrEmbeddingUnavailable")
	}
	if errors.Is(ErrSearchUnavailable, ErrEmbeddingUnavailable) {
		t.Error("vector store failure must not match ErrEmbeddingUnavailable")
	}
}

func TestMisalignedVerdicts(t *testing.T) {
	err := NewMisalignedVerdicts(3, 2)
	if !errors.Is(err, ErrRefinementUnavailable) {
		t.Fatal("expected ErrRefinementUnavailable")
	}
	var mv *MisalignedVerdictsError
	if !errors.As(err, &mv) {
		t.Fatal("expected MisalignedVerdictsError")
	}
	if mv.Candidates != 3 || mv.Verdicts != 2 {
		t.Errorf("unexpected counts: %+v", mv)
	}
	want := "refinement unavailable: 2 verdicts for 3 candidates"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", ErrInvalidRequest), "invalid_request"},
		{fmt.Errorf("x: %w", ErrEmbeddingUnavailable), "embedding_unavailable"},
		{fmt.Errorf("x: %w", ErrSearchUnavailable), "search_unavailable"},
		{NewMisalignedVerdicts(1, 0), "refinement_unavailable"},
		{ErrInternalFusion, "internal_fusion_error"},
		{ErrRateLimited, "rate_limited"},
		{ErrJudgeQuotaExceeded, "judge_quota_exceeded"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tc := range tests {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
