package registry

import (
	"fmt"
	"sort"
	"sync"

	gwerrors "github.com/cliniguard/cliniguard/internal/errors"
)

// Registry is the concurrent tool mapping. Reads vastly outnumber writes:
// registration normally happens once at composition time, but dynamic
// registration may overlap dispatch, so mutations run under the write lock
// and readers always observe either the full prior state or the full new
// state, never a half-built descriptor.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Descriptor
	order      []string            // registration order, for stable enumeration
	byCategory map[string][]string // category → tool names in registration order
}

// New creates an empty registry. Construct one per composition root (or per
// test); there is no package-level instance.
func New() *Registry {
	return &Registry{
		tools:      make(map[string]Descriptor),
		byCategory: make(map[string][]string),
	}
}

// Register adds a descriptor. A duplicate name fails with ErrDuplicateTool
// and leaves the original untouched; an invalid descriptor fails without
// registering anything.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("register %q: %w", d.Name, gwerrors.ErrDuplicateTool)
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	r.byCategory[d.Category] = append(r.byCategory[d.Category], d.Name)
	return nil
}

// Get returns the descriptor registered under name, or ErrToolNotFound.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("tool %q: %w", name, gwerrors.ErrToolNotFound)
	}
	return d, nil
}

// ListByCategory returns a snapshot of the descriptors in category, in
// registration order. An unknown category yields an empty slice, not an
// error.
func (r *Registry) ListByCategory(category string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.byCategory[category]
	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n])
	}
	return out
}

// ListAll returns a snapshot of every descriptor in registration order.
func (r *Registry) ListAll() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Categories returns the known categories, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byCategory))
	for c := range r.byCategory {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
