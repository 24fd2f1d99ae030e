package candidate

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/artsearch/internal/domain"
)

// Payload keys read from vector store points.
const (
	PayloadImagePath   = "image_path"
	PayloadTitle       = "title"
	PayloadSectionText = "section_text"
)

// Modality is the similarity axis a candidate came from.
type Modality string

// Modality constants.
const (
	Image Modality = "image"
	Text  Modality = "text"
)

// Hit is one raw search hit, typed once at the adapter boundary.
type Hit struct {
	resourceID  string
	score       float64
	title       string
	sectionText string
}

// NewHit builds a hit from a store payload. It rejects hits without a
// resource identifier and non-finite scores instead of carrying a sentinel downstream.
func NewHit(score float64, payload map[string]any) (Hit, error) {
	id, _ := payload[PayloadImagePath].(string)
	if id == "" {
		return Hit{}, fmt.Errorf("payload without %s: %w", PayloadImagePath, domain.ErrMissingResourceID)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Hit{}, fmt.Errorf("non-finite score %v for %q: %w", score, id, domain.ErrInternalFusion)
	}
	title, _ := payload[PayloadTitle].(string)
	section, _ := payload[PayloadSectionText].(string)
	return Hit{resourceID: id, score: score, title: title, sectionText: section}, nil
}

// ResourceID returns the canonical image path.
func (h Hit) ResourceID() string { return h.resourceID }

// Score returns the raw similarity score.
func (h Hit) Score() float64 { return h.score }

// Title returns the artwork title, if the payload carried one.
func (h Hit) Title() string { return h.title }

// SectionText returns the matched description section, if any.
func (h Hit) SectionText() string { return h.sectionText }

// Candidate is one ranked entry of a single-modality search.
// It always owns an ordered, non-empty list of supporting hits.
type Candidate struct {
	id       string
	score    float64
	hits     []Hit
	modality Modality
}

// FromHit wraps a single hit as a candidate.
func FromHit(m Modality, h Hit) Candidate {
	return Candidate{id: h.resourceID, score: h.score, hits: []Hit{h}, modality: m}
}

// New creates a candidate with an explicit score and supporting hits.
// All hits must share id.
func New(m Modality, id string, score float64, hits []Hit) (Candidate, error) {
	if id == "" {
		return Candidate{}, domain.ErrMissingResourceID
	}
	if len(hits) == 0 {
		return Candidate{}, fmt.Errorf("candidate %q without hits: %w", id, domain.ErrInternalFusion)
	}
	for _, h := range hits {
		if h.resourceID != id {
			return Candidate{}, fmt.Errorf("hit %q grouped under %q: %w", h.resourceID, id, domain.ErrInternalFusion)
		}
	}
	return Candidate{id: id, score: score, hits: hits, modality: m}, nil
}

// ID returns the resource identifier (dedup key).
func (c Candidate) ID() string { return c.id }

// Score returns the candidate score.
func (c Candidate) Score() float64 { return c.score }

// Hits returns the supporting hits in search order.
func (c Candidate) Hits() []Hit { return c.hits }

// Modality returns the originating modality.
func (c Candidate) Modality() Modality { return c.modality }

// WithScore returns a copy with a replaced score.
func (c Candidate) WithScore(score float64) Candidate {
	c.score = score
	return c
}
