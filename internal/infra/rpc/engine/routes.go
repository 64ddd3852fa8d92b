package engine

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/vietddude/peercall/internal/core/config"
)

// MemoryRoutes is an in-process RoutingStore.
type MemoryRoutes struct {
	mu     sync.RWMutex
	routes map[string]map[string]any
}

// NewMemoryRoutes creates an empty store.
func NewMemoryRoutes() *MemoryRoutes {
	return &MemoryRoutes{routes: make(map[string]map[string]any)}
}

// Set replaces the routing record of target.
func (m *MemoryRoutes) Set(target string, raw config.RawOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[target] = maps.Clone(raw)
}

// Routing returns the routing record of target.
func (m *MemoryRoutes) Routing(_ context.Context, target string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.routes[target]
	if !ok {
		return nil, fmt.Errorf("no routing for target %s", target)
	}
	return maps.Clone(raw), nil
}
