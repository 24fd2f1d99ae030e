package judge

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/artsearch/internal/domain"
)

// Registry maps refinement model selectors to judges.
type Registry struct {
	judges   map[string]domain.Judge
	fallback string
}

// NewRegistry creates a registry whose unknown selectors resolve to fallback.
func NewRegistry(fallback string) *Registry {
	return &Registry{judges: make(map[string]domain.Judge), fallback: fallback}
}

// Register adds a judge under name, replacing any previous one.
func (r *Registry) Register(name string, j domain.Judge) {
	r.judges[name] = j
}

// Resolve returns the judge for selector, or the fallback judge when the
// selector is unknown. The returned name is the judge actually used.
func (r *Registry) Resolve(selector string) (string, domain.Judge, error) {
	if j, ok := r.judges[selector]; ok {
		return selector, j, nil
	}
	if j, ok := r.judges[r.fallback]; ok {
		return r.fallback, j, nil
	}
	return "", nil, fmt.Errorf("no judge for %q and no default configured: %w",
		selector, domain.ErrRefinementUnavailable)
}

// Names returns registered judge names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.judges))
	for n := range r.judges {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
