package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/search/mode"
)

// Query parameter limits.
const (
	// MaxQuestionLength is the longest question kept, in bytes. Longer ones are cut.
	MaxQuestionLength = 4096
	DefaultK          = 3
	MaxK              = 50
)

// Params are the raw request fields, before defaults and validation.
type Params struct {
	Question        string
	K               int
	Weight          float64
	RefinementModel string
}

// FusionWeight is the per-modality weight pair derived from a query weight.
type FusionWeight struct {
	Text  float64
	Image float64
}

// Query is a validated, immutable retrieval request.
type Query struct {
	question        string
	k               int
	weight          float64
	refinementModel string
}

// New validates and normalizes request parameters.
// Only an empty question is rejected. A question longer than MaxQuestionLength
// is cut on a rune boundary. k and weight are fixed up with defaults:
// k <= 0 becomes DefaultK, k > MaxK is clamped, a non-finite or negative weight
// becomes 0 and a weight above 1 is clamped to 1.
func New(p Params) (Query, error) {
	q := strings.TrimSpace(p.Question)
	if q == "" {
		return Query{}, fmt.Errorf("question is required: %w", domain.ErrInvalidRequest)
	}
	q = truncate(q, MaxQuestionLength)

	k := p.K
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}

	return Query{
		question:        q,
		k:               k,
		weight:          clampWeight(p.Weight),
		refinementModel: strings.TrimSpace(p.RefinementModel),
	}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

func clampWeight(w float64) float64 {
	switch {
	case math.IsNaN(w) || math.IsInf(w, 0) || w < 0:
		return 0
	case w > 1:
		return 1
	default:
		return w
	}
}

// Question returns the trimmed question text.
func (q Query) Question() string { return q.question }

// K returns the number of results to return.
func (q Query) K() int { return q.k }

// Weight returns the text-modality fusion weight in [0, 1].
func (q Query) Weight() float64 { return q.weight }

// RefinementModel returns the requested judge selector ("" when refinement is off).
func (q Query) RefinementModel() string { return q.refinementModel }

// Refine reports whether the caller asked for a refinement pass.
func (q Query) Refine() bool { return q.refinementModel != "" }

// Weights derives the fusion weight pair: text = weight, image = 1 - weight.
func (q Query) Weights() FusionWeight {
	return FusionWeight{Text: q.weight, Image: 1 - q.weight}
}

// Mode routes the query: 0 < weight < 1 fuses both modalities,
// weight == 1 is text only, anything else is image only.
func (q Query) Mode() mode.Mode {
	switch {
	case q.weight > 0 && q.weight < 1:
		return mode.Fused
	case q.weight == 1:
		return mode.Text
	default:
		return mode.Image
	}
}

// Key identifies the query for result caching.
func (q Query) Key() string {
	return strings.Join([]string{
		q.question,
		strconv.Itoa(q.k),
		strconv.FormatFloat(q.weight, 'g', -1, 64),
		q.refinementModel,
	}, "\x00")
}
