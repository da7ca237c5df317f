package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/stacker/pkg/template"
)

// Factory builds a resource from its resolved definition.
type Factory func(def *template.Definition, scope Scope) (Resource, error)

// Registry maps resource type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a resource type.
func (r *Registry) Register(resourceType string, factory Factory) error {
	if resourceType == "" {
		return fmt.Errorf("resource type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %s cannot be nil", resourceType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[resourceType]; exists {
		return fmt.Errorf("resource type %s already registered", resourceType)
	}
	r.factories[resourceType] = factory
	return nil
}

// Has reports whether a resource type is registered.
func (r *Registry) Has(resourceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[resourceType]
	return ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds a resource. Unknown types and factory failures are
// configuration errors.
func (r *Registry) New(def *template.Definition, scope Scope) (Resource, error) {
	r.mu.RLock()
	factory, ok := r.factories[def.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("unknown resource type %s", def.Type), nil).
			WithResource(def.Name)
	}

	res, err := factory(def, scope)
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, NewConfigurationError("invalid resource definition", err).WithResource(def.Name)
	}
	return res, nil
}
