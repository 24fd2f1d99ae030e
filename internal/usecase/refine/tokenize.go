package refine

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/kailas-cloud/artsearch/internal/domain"
)

// verdictRe matches a Yes/No token, optionally preceded by an "Image N:" label.
var verdictRe = regexp.MustCompile(`(?i)\b(?:Image\s*(\d+)\s*[:\-]?\s*)?(Yes|No)\b`)

// Verdict is one extracted judge token.
type Verdict struct {
	// Position is the 0-based index of the token in the answer.
	Position int
	Keep     bool
	// Label is the image number the model wrote next to the token, 0 if none.
	Label int
}

// Tokenize extracts verdicts from free-form judge output in order of appearance.
// It accepts JSON arrays, "Image N: Yes" lists and bare words alike.
func Tokenize(text string) []Verdict {
	matches := verdictRe.FindAllStringSubmatch(text, -1)
	out := make([]Verdict, 0, len(matches))
	for i, m := range matches {
		v := Verdict{Position: i, Keep: len(m[2]) == 3}
		if m[1] != "" {
			if n, err := strconv.Atoi(m[1]); err == nil {
				v.Label = n
			}
		}
		out = append(out, v)
	}
	return out
}

// Align maps verdicts onto n candidates. The count must match exactly, and a
// labelled verdict must name the image at its own position.
func Align(verdicts []Verdict, n int) ([]bool, error) {
	if len(verdicts) != n {
		return nil, domain.NewMisalignedVerdicts(n, len(verdicts))
	}
	keep := make([]bool, n)
	for i, v := range verdicts {
		if v.Label != 0 && v.Label != i+1 {
			return nil, fmt.Errorf("verdict %d labelled as image %d: %w", i+1, v.Label, domain.ErrRefinementUnavailable)
		}
		keep[i] = v.Keep
	}
	return keep, nil
}
