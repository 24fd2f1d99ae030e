// Package refine implements the LLM relevance check applied to a fused ranking.
package refine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
	"github.com/kailas-cloud/artsearch/internal/logger"
)

// MaxCandidates is the largest candidate set sent to a judge in one call.
const MaxCandidates = 10

// Outcome describes what a refinement call did.
type Outcome string

// Refinement outcomes.
const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeKeptAll  Outcome = "kept_all"
	OutcomeFiltered Outcome = "filtered"
	OutcomeFailOpen Outcome = "fail_open"
	OutcomeError    Outcome = "error"
)

// Report is the result of a refinement call.
// Kept is always a subsequence of the input; on failure it equals the input.
type Report struct {
	Kept     []result.Ranked
	Outcome  Outcome
	Verdicts []Verdict
	Answer   string
}

// Pass runs the refinement protocol against a judge.
type Pass struct {
	images ImageLoader
}

// NewPass creates a refinement pass.
func NewPass(images ImageLoader) *Pass {
	return &Pass{images: images}
}

// Refine asks j which of ranked match question and drops the rejected ones.
// Empty input and input above MaxCandidates are returned unchanged.
// Every failure returns the input unchanged together with an error wrapping
// domain.ErrRefinementUnavailable.
func (p *Pass) Refine(
	ctx context.Context, j domain.Judge, question string, ranked []result.Ranked,
) (Report, error) {
	if len(ranked) == 0 || len(ranked) > MaxCandidates {
		return Report{Kept: ranked, Outcome: OutcomeSkipped}, nil
	}

	images := make([]domain.Image, len(ranked))
	for i := range ranked {
		img, err := p.images.Load(ctx, ranked[i].ID())
		if err != nil {
			return Report{Kept: ranked, Outcome: OutcomeError},
				unavailable(fmt.Errorf("load image %q: %w", ranked[i].ID(), err))
		}
		images[i] = img
	}

	res, err := j.Judge(ctx, domain.JudgeRequest{
		Prompt:   Prompt(len(images)),
		Images:   images,
		Question: question,
	})
	if err != nil {
		return Report{Kept: ranked, Outcome: OutcomeError}, unavailable(fmt.Errorf("judge: %w", err))
	}
	domain.UsageFromContext(ctx).AddJudgeTokens(res.TotalTokens)

	verdicts := Tokenize(res.Text)
	keep, err := Align(verdicts, len(ranked))
	if err != nil {
		logger.FromContext(ctx).Warn("judge answer misaligned, keeping all candidates",
			zap.Int("candidates", len(ranked)),
			zap.Int("verdicts", len(verdicts)),
			zap.String("answer", res.Text))
		return Report{Kept: ranked, Outcome: OutcomeFailOpen, Verdicts: verdicts, Answer: res.Text}, err
	}

	kept := make([]result.Ranked, 0, len(ranked))
	for i := range ranked {
		if keep[i] {
			kept = append(kept, ranked[i])
		}
	}
	outcome := OutcomeFiltered
	if len(kept) == len(ranked) {
		outcome = OutcomeKeptAll
	}
	return Report{Kept: kept, Outcome: outcome, Verdicts: verdicts, Answer: res.Text}, nil
}

func unavailable(err error) error {
	if errors.Is(err, domain.ErrRefinementUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrRefinementUnavailable, err)
}
