// Package registry implements the generic named-entity store shared by
// the agent registry, the workflow registry, and the action registry:
// unique names, validation on registration, and discovery by listing or
// predicate.
package registry

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// Named is implemented by anything registerable: agent definitions,
// workflow definitions, and action handlers all expose a stable Name().
type Named interface {
	Name() string
}

// Validator is optionally implemented by registered values; Registry calls
// Validate during Register and rejects the registration on error.
type Validator interface {
	Validate() error
}

// Registry is a unique-name store for a single entity type T.
type Registry[T Named] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty registry.
func New[T Named]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register adds an item under its own Name(), validating it first if it
// implements Validator. Names are unique: registering a name that already
// exists fails rather than silently replacing the prior entry, since
// registered definitions are immutable. Use Unregister first to replace.
func (r *Registry[T]) Register(item T) error {
	if v, ok := any(item).(Validator); ok {
		if err := v.Validate(); err != nil {
			return &apperrors.ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("invalid registration for %q: %v", item.Name(), err),
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[item.Name()]; exists {
		return &apperrors.ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("%q is already registered", item.Name()),
		}
	}
	r.items[item.Name()] = item
	return nil
}

// Get returns the item registered under name.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	if !ok {
		var zero T
		return zero, &apperrors.NotFoundError{Resource: "registry entry", ID: name}
	}
	return item, nil
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// Unregister removes name, if present.
func (r *Registry[T]) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, name)
}

// List returns every registered item, sorted by name for deterministic
// iteration.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]T, 0, len(names))
	for _, name := range names {
		out = append(out, r.items[name])
	}
	return out
}

// Find returns every registered item for which predicate returns true,
// in name-sorted order.
func (r *Registry[T]) Find(predicate func(T) bool) []T {
	var out []T
	for _, item := range r.List() {
		if predicate(item) {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the number of registered items.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
