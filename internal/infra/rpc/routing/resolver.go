package routing

import (
	"context"
	"sync"
)

// Resolver returns the current peer set for a target at call time.
type Resolver interface {
	Resolve(ctx context.Context) ([]string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context) ([]string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context) ([]string, error) { return f(ctx) }

// Registry maps resolver names, as used in configurations, to resolvers.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register binds name to r, replacing any previous binding.
func (r *Registry) Register(name string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[name] = res
}

// Lookup returns the resolver bound to name.
func (r *Registry) Lookup(name string) (Resolver, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[name]
	return res, ok
}
