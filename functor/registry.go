package functor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps function names to functors. A name can be registered once;
// the first registration wins for the lifetime of the registry.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	functors map[string]*entry
}

type entry struct {
	name string
	fn   Functor
}

// Handle is the result of a lookup. The zero Handle is invalid.
type Handle struct {
	e *entry
}

// Valid reports whether the lookup that produced the handle succeeded.
func (h Handle) Valid() bool { return h.e != nil }

// Name returns the registered name, or "" for an invalid handle.
func (h Handle) Name() string {
	if h.e == nil {
		return ""
	}
	return h.e.name
}

// Functor returns the registered functor, or nil for an invalid handle.
func (h Handle) Functor() Functor {
	if h.e == nil {
		return nil
	}
	return h.e.fn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{functors: make(map[string]*entry)}
}

// Add registers f under name. It returns false, leaving the registry untouched,
// when the name is empty, f is nil or the name is already taken.
func (r *Registry) Add(name string, f Functor) bool {
	if name == "" || f == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.functors[name]; exists {
		return false
	}
	r.functors[name] = &entry{name: name, fn: f}
	return true
}

// Register adapts fn with Reflect and adds it under name.
func (r *Registry) Register(name string, fn any) error {
	f, err := Reflect(fn)
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	if !r.Add(name, f) {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateRegistration)
	}
	return nil
}

// Get looks up name without modifying the registry.
func (r *Registry) Get(name string) Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Handle{e: r.functors[name]}
}

// Call invokes the functor registered under name.
//
// An unregistered name fails with ErrUnknownMethod. Any failure raised by the functor,
// including a panic, is returned as a *HandlerError.
func (r *Registry) Call(ctx context.Context, name string, args []any) (result any, err error) {
	h := r.Get(name)
	if !h.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &HandlerError{Method: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	result, err = h.e.fn.Invoke(ctx, args)
	if err != nil {
		return nil, &HandlerError{Method: name, Err: err}
	}
	return result, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.functors))
	for name := range r.functors {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered functors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functors)
}
