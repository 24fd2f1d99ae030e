// Package fusion merges independently ranked single-modality candidate lists
// into one deduplicated ranking keyed by resource identifier.
package fusion

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/query"
	"github.com/kailas-cloud/artsearch/internal/domain/search/candidate"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
)

// Overfetch multiplies the raw text-modality limit. Several description
// sections can point at the same image, so k raw hits may collapse to fewer
// than k images.
const Overfetch = 5

// TextLimit returns the raw hit limit for a text-modality search.
func TextLimit(k, overfetch int) int {
	if overfetch < 1 {
		overfetch = 1
	}
	return k * overfetch
}

// entry accumulates one resource identifier in first-seen order.
type entry struct {
	id      string
	score   float64
	support []candidate.Candidate
}

// accumulator is an insertion-ordered score map.
type accumulator struct {
	index   map[string]int
	entries []entry
}

func newAccumulator(capacity int) *accumulator {
	return &accumulator{
		index:   make(map[string]int, capacity),
		entries: make([]entry, 0, capacity),
	}
}

func (a *accumulator) add(id string, score float64, c candidate.Candidate) {
	if i, ok := a.index[id]; ok {
		a.entries[i].score += score
		a.entries[i].support = append(a.entries[i].support, c)
		return
	}
	a.index[id] = len(a.entries)
	a.entries = append(a.entries, entry{id: id, score: score, support: []candidate.Candidate{c}})
}

// ranked sorts by descending score (stable: ties keep first-seen order) and truncates to k.
func (a *accumulator) ranked(k int) []result.Ranked {
	sort.SliceStable(a.entries, func(i, j int) bool {
		return a.entries[i].score > a.entries[j].score
	})
	n := len(a.entries)
	if k >= 0 && n > k {
		n = k
	}
	out := make([]result.Ranked, n)
	for i := range n {
		e := a.entries[i]
		out[i] = result.New(e.id, e.score, e.support)
	}
	return out
}

// Group collapses candidates sharing a resource identifier into one candidate
// whose score is the sum of the group and whose hits are concatenated in order.
// Output keeps first-seen order and is not sorted.
func Group(cands []candidate.Candidate) ([]candidate.Candidate, error) {
	type group struct {
		modality candidate.Modality
		score    float64
		hits     []candidate.Hit
	}
	index := make(map[string]int, len(cands))
	ids := make([]string, 0, len(cands))
	groups := make([]group, 0, len(cands))

	for _, c := range cands {
		if i, ok := index[c.ID()]; ok {
			groups[i].score += c.Score()
			groups[i].hits = append(groups[i].hits, c.Hits()...)
			continue
		}
		index[c.ID()] = len(groups)
		ids = append(ids, c.ID())
		hits := make([]candidate.Hit, len(c.Hits()))
		copy(hits, c.Hits())
		groups = append(groups, group{modality: c.Modality(), score: c.Score(), hits: hits})
	}

	out := make([]candidate.Candidate, len(groups))
	for i, g := range groups {
		c, err := candidate.New(g.modality, ids[i], g.score, g.hits)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", ids[i], err)
		}
		out[i] = c
	}
	return out, nil
}

// Single ranks one modality: duplicates are summed, the result is sorted by
// descending score and truncated to k.
func Single(cands []candidate.Candidate, k int) ([]result.Ranked, error) {
	grouped, err := Group(cands)
	if err != nil {
		return nil, err
	}
	acc := newAccumulator(len(grouped))
	for _, c := range grouped {
		acc.add(c.ID(), c.Score(), c)
	}
	return verify(acc.ranked(k), k)
}

// Weighted fuses the text and image modalities. Each modality is grouped,
// normalized by policy, scaled by its weight and summed per identifier.
// An identifier missing from one modality gets no contribution from it.
// Text is merged first, so on equal scores text-side identifiers rank first.
func Weighted(
	text, image []candidate.Candidate, w query.FusionWeight, k int, policy Policy,
) ([]result.Ranked, error) {
	if w.Text < 0 || w.Image < 0 {
		return nil, fmt.Errorf("negative fusion weight %+v: %w", w, domain.ErrInternalFusion)
	}

	textGrouped, err := Group(text)
	if err != nil {
		return nil, err
	}
	imageGrouped, err := Group(image)
	if err != nil {
		return nil, err
	}
	textGrouped = policy.Apply(textGrouped)
	imageGrouped = policy.Apply(imageGrouped)

	acc := newAccumulator(len(textGrouped) + len(imageGrouped))
	for _, c := range textGrouped {
		acc.add(c.ID(), c.Score()*w.Text, c)
	}
	for _, c := range imageGrouped {
		acc.add(c.ID(), c.Score()*w.Image, c)
	}
	return verify(acc.ranked(k), k)
}

// verify checks the output invariants: length <= k, unique identifiers.
func verify(rs []result.Ranked, k int) ([]result.Ranked, error) {
	if len(rs) > k {
		return nil, fmt.Errorf("%d results for k=%d: %w", len(rs), k, domain.ErrInternalFusion)
	}
	seen := make(map[string]struct{}, len(rs))
	for i := range rs {
		id := rs[i].ID()
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate identifier %q: %w", id, domain.ErrInternalFusion)
		}
		seen[id] = struct{}{}
	}
	return rs, nil
}
