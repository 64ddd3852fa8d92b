package routing

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/peercall/internal/core/config"
)

// DefaultContext is the selection context used when a context.Context
// carries none. All such calls share round-robin and sticky state.
const DefaultContext = "default"

type selectionKey struct{}

// WithSelectionContext returns a copy of parent that starts a new selection
// context with a random identifier.
func WithSelectionContext(parent context.Context) context.Context {
	return WithSelectionID(parent, uuid.NewString())
}

// WithSelectionID returns a copy of parent bound to the selection context id.
func WithSelectionID(parent context.Context, id string) context.Context {
	return context.WithValue(parent, selectionKey{}, id)
}

// SelectionID reports the selection context carried by ctx.
func SelectionID(ctx context.Context) string {
	if id, ok := ctx.Value(selectionKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultContext
}

// Key identifies selector state within a selection context.
type Key struct {
	Context  string
	Selector string
}

// State is the mutable selection state of one selector in one context.
type State struct {
	mu sync.Mutex

	strategy  config.Strategy
	sticky    bool
	cursor    int
	hasCursor bool
	pinned    string
	hasPin    bool
}

// Pinned returns the sticky peer, if any.
func (s *State) Pinned() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned, s.hasPin
}

// Mode returns the strategy and sticky flag of the last selection that
// touched this state.
func (s *State) Mode() (config.Strategy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy, s.sticky
}

// StateStore holds selector state keyed by selection context and selector.
type StateStore interface {
	// Get returns the state for key, creating it if needed.
	Get(key Key) *State

	// Lookup returns the state for key if it exists.
	Lookup(key Key) (*State, bool)

	// DeleteContext drops every state owned by a selection context.
	DeleteContext(contextID string)
}

// MemoryStore is an in-process StateStore.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]map[string]*State
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]map[string]*State)}
}

// Get returns the state for key, creating it if needed.
func (m *MemoryStore) Get(key Key) *State {
	if st, ok := m.Lookup(key); ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	states, ok := m.contexts[key.Context]
	if !ok {
		states = make(map[string]*State)
		m.contexts[key.Context] = states
	}
	st, ok := states[key.Selector]
	if !ok {
		st = &State{}
		states[key.Selector] = st
	}
	return st
}

// Lookup returns the state for key if it exists.
func (m *MemoryStore) Lookup(key Key) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.contexts[key.Context][key.Selector]
	return st, ok
}

// DeleteContext drops every state owned by a selection context.
func (m *MemoryStore) DeleteContext(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, contextID)
}

// Len returns the number of live states.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, states := range m.contexts {
		n += len(states)
	}
	return n
}
