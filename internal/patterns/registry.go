package patterns

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps pattern names to instances. Explicitly constructed and
// passed to the orchestrator; there is deliberately no package-level
// default registry.
type Registry struct {
	mu       sync.RWMutex
	patterns map[string]Pattern
}

func NewRegistry(patterns ...Pattern) *Registry {
	r := &Registry{patterns: make(map[string]Pattern)}
	for _, p := range patterns {
		_ = r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Pattern) error {
	if p == nil {
		return fmt.Errorf("patterns: cannot register nil pattern")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.patterns[p.Name()]; exists {
		return fmt.Errorf("patterns: %q already registered", p.Name())
	}
	r.patterns[p.Name()] = p
	return nil
}

func (r *Registry) Get(name string) (Pattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[name]
	return p, ok
}

// List returns registered patterns sorted by name.
func (r *Registry) List() []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Default builds a registry containing the three shipped patterns wired to
// the given capabilities.
func Default(caps Capabilities) *Registry {
	return NewRegistry(
		NewReAct(caps),
		NewRefinement(caps),
		NewPlanValidate(caps),
	)
}
