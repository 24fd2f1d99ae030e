package fusion

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/artsearch/internal/domain/search/candidate"
)

// Policy is the per-modality score normalization applied before weighting.
// Raw similarity scores from two embedding spaces are only roughly comparable;
// None keeps them as they are.
type Policy string

// Normalization policies.
const (
	None   Policy = "none"
	MinMax Policy = "minmax"
	ZScore Policy = "zscore"
)

// ParsePolicy parses a policy name. Empty means None.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return None, nil
	case None, MinMax, ZScore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown normalization policy %q", s)
	}
}

// Apply returns candidates with normalized scores. Input order is kept.
func (p Policy) Apply(cands []candidate.Candidate) []candidate.Candidate {
	if len(cands) == 0 {
		return cands
	}
	switch p {
	case MinMax:
		return minMax(cands)
	case ZScore:
		return zScore(cands)
	default:
		return cands
	}
}

// minMax maps scores to [0, 1]. A constant list maps to all ones.
func minMax(cands []candidate.Candidate) []candidate.Candidate {
	lo, hi := cands[0].Score(), cands[0].Score()
	for _, c := range cands[1:] {
		lo = math.Min(lo, c.Score())
		hi = math.Max(hi, c.Score())
	}
	out := make([]candidate.Candidate, len(cands))
	span := hi - lo
	for i, c := range cands {
		s := 1.0
		if span > 0 {
			s = (c.Score() - lo) / span
		}
		out[i] = c.WithScore(s)
	}
	return out
}

// zScore centers scores on the mean in units of standard deviation.
// A constant list maps to all zeros.
func zScore(cands []candidate.Candidate) []candidate.Candidate {
	n := float64(len(cands))
	var sum float64
	for _, c := range cands {
		sum += c.Score()
	}
	mean := sum / n
	var sq float64
	for _, c := range cands {
		d := c.Score() - mean
		sq += d * d
	}
	std := math.Sqrt(sq / n)

	out := make([]candidate.Candidate, len(cands))
	for i, c := range cands {
		s := 0.0
		if std > 0 {
			s = (c.Score() - mean) / std
		}
		out[i] = c.WithScore(s)
	}
	return out
}
