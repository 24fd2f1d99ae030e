package result

import "github.com/kailas-cloud/artsearch/internal/domain/search/candidate"

// Ranked is one fused ranking entry.
type Ranked struct {
	id      string
	score   float64
	support []candidate.Candidate
}

// New creates a ranked result.
func New(id string, score float64, support []candidate.Candidate) Ranked {
	return Ranked{id: id, score: score, support: support}
}

// ID returns the resource identifier.
func (r *Ranked) ID() string { return r.id }

// Score returns the fused score.
func (r *Ranked) Score() float64 { return r.score }

// Support returns the per-modality candidates that contributed to the score.
func (r *Ranked) Support() []candidate.Candidate { return r.support }

// IDs projects a ranking onto its resource identifiers, preserving order.
func IDs(rs []Ranked) []string {
	ids := make([]string, len(rs))
	for i := range rs {
		ids[i] = rs[i].id
	}
	return ids
}

// Snapshot is a serializable view of a finished retrieval, used for caching.
type Snapshot struct {
	IDs        []string  `json:"ids"`
	Scores     []float64 `json:"scores"`
	Mode       string    `json:"mode"`
	Refinement string    `json:"refinement,omitempty"`
}
