package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest signals a request that cannot be served (empty question).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSearchUnavailable signals an embedding or vector store failure.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrEmbeddingUnavailable signals an embedding provider failure.
	// It is also a search unavailability: errors.Is(err, ErrSearchUnavailable) holds.
	ErrEmbeddingUnavailable = &kindError{msg: "embedding unavailable", parent: ErrSearchUnavailable}
	// ErrRefinementUnavailable signals a judge failure or a verdict/candidate misalignment.
	ErrRefinementUnavailable = errors.New("refinement unavailable")
	// ErrInternalFusion signals a broken fusion invariant. It is a programming defect.
	ErrInternalFusion = errors.New("internal fusion error")
	// ErrMissingResourceID signals a search hit without an image_path payload.
	ErrMissingResourceID = errors.New("missing resource identifier")
	// ErrImageNotFound signals an identifier that does not resolve to an image file.
	ErrImageNotFound = errors.New("image not found")
	// ErrRateLimited signals a local rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrJudgeQuotaExceeded signals an exhausted daily judge token budget.
	ErrJudgeQuotaExceeded = errors.New("judge token quota exceeded")
)

// kindError is a sentinel that also matches a broader parent sentinel.
type kindError struct {
	msg    string
	parent error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.parent }

// MisalignedVerdictsError reports a judge answer whose verdict count does not
// match the number of candidates it was asked about.
type MisalignedVerdictsError struct {
	Candidates int
	Verdicts   int
}

func (e *MisalignedVerdictsError) Error() string {
	return fmt.Sprintf("%s: %d verdicts for %d candidates",
		ErrRefinementUnavailable.Error(), e.Verdicts, e.Candidates)
}

func (e *MisalignedVerdictsError) Unwrap() error { return ErrRefinementUnavailable }

// NewMisalignedVerdicts creates a verdict alignment error.
func NewMisalignedVerdicts(candidates, verdicts int) error {
	return &MisalignedVerdictsError{Candidates: candidates, Verdicts: verdicts}
}

// Kind returns the short public name of the sentinel err belongs to, or "" if none.
// Used for metric labels and user-facing error strings.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, ErrSearchUnavailable):
		return "search_unavailable"
	case errors.Is(err, ErrRefinementUnavailable):
		return "refinement_unavailable"
	case errors.Is(err, ErrInternalFusion):
		return "internal_fusion_error"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrJudgeQuotaExceeded):
		return "judge_quota_exceeded"
	default:
		return "internal_error"
	}
}
