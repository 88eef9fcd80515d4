// Package hunt manages hunt definitions: a closed registry of built-in
// workflow templates plus operator-authored YAML definitions. Each hunt is
// data (a HuntDefinition value produced by a factory), not a behavior object.
package hunt

import (
	"fmt"
	"sort"
	"sync"

	"github.com/casehound/casehound/internal/domain"
)

// Factory produces one immutable HuntDefinition.
type Factory func() domain.HuntDefinition

// Registry holds the known hunt definitions keyed by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register validates the factory's definition once and adds it under its
// name. Registering an already-known name is an error; definitions are
// immutable once stored.
func (r *Registry) Register(factory Factory) error {
	if factory == nil {
		return fmt.Errorf("factory is required")
	}
	def := factory()
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid hunt definition %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[def.Name]; exists {
		return fmt.Errorf("hunt %q already registered", def.Name)
	}
	r.factories[def.Name] = factory
	return nil
}

// Get returns a fresh copy of the named definition.
func (r *Registry) Get(name string) (domain.HuntDefinition, bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return domain.HuntDefinition{}, false
	}
	return factory(), true
}

// List returns every registered definition, sorted by name.
func (r *Registry) List() []domain.HuntDefinition {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	defs := make([]domain.HuntDefinition, 0, len(names))
	for _, name := range names {
		if def, ok := r.Get(name); ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// DefaultRegistry returns a registry preloaded with the built-in catalog.
func DefaultRegistry() (*Registry, error) {
	registry := NewRegistry()
	for _, factory := range builtinFactories() {
		if err := registry.Register(factory); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
