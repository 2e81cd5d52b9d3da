package workflow

import (
	"fmt"
	"sort"
	"sync"
)

type registryKey struct {
	scope Scope
	id    string
}

// Registry holds the loaded workflow definitions keyed by (scope, id).
// Population happens through an explicit Load/Rescan call; there is no
// ambient global registry.
type Registry struct {
	mu   sync.RWMutex
	defs map[registryKey]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[registryKey]*Definition)}
}

func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{scope: def.Scope, id: def.ID}
	if existing, ok := r.defs[key]; ok && existing.FilePath() != def.FilePath() {
		return fmt.Errorf(
			"duplicate workflow definition %s/%s (from %s and %s)",
			def.Scope, def.ID, existing.FilePath(), def.FilePath(),
		)
	}
	r.defs[key] = def
	return nil
}

// Get looks up a definition, preferring the project scope when both exist.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.defs[registryKey{scope: ScopeProject, id: id}]; ok {
		return def, nil
	}
	if def, ok := r.defs[registryKey{scope: ScopeGlobal, id: id}]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("workflow definition %q: %w", id, ErrDefinitionNotFound)
}

func (r *Registry) GetScoped(scope Scope, id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.defs[registryKey{scope: scope, id: id}]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("workflow definition %s/%s: %w", scope, id, ErrDefinitionNotFound)
}

func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// replaceScope swaps every definition of one scope in a single critical
// section, so a rescan never leaves the registry half-updated.
func (r *Registry) replaceScope(scope Scope, defs []*Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.defs {
		if key.scope == scope {
			delete(r.defs, key)
		}
	}
	for _, def := range defs {
		r.defs[registryKey{scope: def.Scope, id: def.ID}] = def
	}
}
