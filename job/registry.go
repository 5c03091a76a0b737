package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased handler that accepts the raw input
// reference and returns an opaque output reference. The typed
// Definition[T] is converted to a HandlerFunc at registration time by
// closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, input []byte) (string, error)

type registration struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps job types to type-erased handler functions and their
// per-type options. The registered set defines the valid enqueue
// targets. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Type]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Type]registration),
	}
}

// RegisterDefinition registers a typed handler definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the input into T
// before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, input []byte) (string, error) {
		var t T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &t); err != nil {
				return "", fmt.Errorf("unmarshal input for job type %q: %w", def.Type, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Type] = registration{handler: handler, opts: def.Opts}
}

// Get returns the handler and options for the given job type.
// Returns false if the type is not registered.
func (r *Registry) Get(t Type) (HandlerFunc, Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[t]
	return reg.handler, reg.opts, ok
}

// Known reports whether the given job type has a registered handler.
func (r *Registry) Known(t Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[t]
	return ok
}

// Types returns all registered job types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}
