// Package routing handles peer resolution and selection.
//
// This package contains:
//   - Selector: random, round-robin and hash selection with optional sticky pinning
//   - StateStore: per selection context state (round-robin cursor, sticky pin)
//   - Registry: named resolvers consulted at call time
package routing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/vietddude/peercall/internal/core/config"
	"github.com/vietddude/peercall/internal/core/rpcerr"
	"github.com/vietddude/peercall/internal/metrics"
)

// Selector chooses a peer for each call.
type Selector struct {
	store     StateStore
	resolvers *Registry
	intn      func(n int) int
	log       *slog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand replaces the source of random indices. intn must return a value
// in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(s *Selector) { s.intn = intn }
}

// WithLogger sets the selector's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Selector) { s.log = log }
}

// NewSelector creates a selector that keeps its state in store and looks up
// resolver references in resolvers. Either may be nil.
func NewSelector(store StateStore, resolvers *Registry, opts ...Option) *Selector {
	if store == nil {
		store = NewMemoryStore()
	}
	s := &Selector{
		store:     store,
		resolvers: resolvers,
		intn:      rand.IntN,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolvePeers returns the peer set of src. A resolver must produce at least
// one peer; duplicates in its result are dropped, keeping the first.
func (s *Selector) ResolvePeers(ctx context.Context, src config.PeerSource) ([]string, error) {
	if !src.IsResolver() {
		if len(src.Static) == 0 {
			return nil, rpcerr.New(rpcerr.KindPeer, "no peer source configured", nil)
		}
		return src.Static, nil
	}

	details := map[string]any{rpcerr.DetailResolver: src.Resolver}
	res, ok := s.resolvers.Lookup(src.Resolver)
	if !ok {
		metrics.ResolverFailures.WithLabelValues(src.Resolver).Inc()
		return nil, rpcerr.New(rpcerr.KindPeer, "unknown resolver "+strconv.Quote(src.Resolver), details)
	}

	peers, err := res.Resolve(ctx)
	if err != nil {
		metrics.ResolverFailures.WithLabelValues(src.Resolver).Inc()
		return nil, rpcerr.Wrap(rpcerr.KindPeer, err,
			"resolver "+strconv.Quote(src.Resolver)+" failed: "+err.Error(), details)
	}

	peers = dedupe(peers)
	if len(peers) == 0 {
		metrics.ResolverFailures.WithLabelValues(src.Resolver).Inc()
		return nil, rpcerr.New(rpcerr.KindPeer,
			"resolver "+strconv.Quote(src.Resolver)+" returned no peers", details)
	}
	return peers, nil
}

// Select picks a peer for the selection context carried by ctx.
//
// With sticky enabled an existing pin is returned without resolving peers;
// otherwise the peer set is resolved and the strategy applied, and the
// result becomes the pin when sticky is enabled.
func (s *Selector) Select(
	ctx context.Context,
	selectorID string,
	r config.Routing,
	hashKey string,
) (string, error) {
	key := Key{Context: SelectionID(ctx), Selector: selectorID}

	if r.Sticky {
		if st, ok := s.store.Lookup(key); ok {
			if peer, pinned := st.Pinned(); pinned {
				metrics.PeerSelections.WithLabelValues(selectorID, string(r.Strategy), "true").Inc()
				return peer, nil
			}
		}
	}

	peers, err := s.ResolvePeers(ctx, r.Peers)
	if err != nil {
		return "", err
	}

	var peer string
	switch r.Strategy {
	case config.StrategyRoundRobin:
		peer = peers[s.advance(key, r, len(peers))]
	case config.StrategyHash:
		peer = peers[hashIndex(hashKey, len(peers))]
	default:
		peer = peers[s.intn(len(peers))]
	}

	if r.Sticky {
		peer = s.pin(key, r, peer)
	}

	metrics.PeerSelections.WithLabelValues(selectorID, string(r.Strategy), "false").Inc()
	s.log.Debug("Selected peer",
		"context", key.Context,
		"selector", selectorID,
		"strategy", r.Strategy,
		"peer", peer,
	)
	return peer, nil
}

// advance returns the current round-robin index for key and moves the
// cursor forward. The cursor starts at a random index and is wrapped into
// range when the peer set has shrunk.
func (s *Selector) advance(key Key, r config.Routing, n int) int {
	st := s.store.Get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.strategy, st.sticky = r.Strategy, r.Sticky
	if !st.hasCursor {
		st.cursor = s.intn(n)
		st.hasCursor = true
	}
	idx := st.cursor % n
	st.cursor = (idx + 1) % n
	return idx
}

// pin records peer as the sticky peer for key unless another selection in
// the same context pinned one first, in which case that pin is returned.
func (s *Selector) pin(key Key, r config.Routing, peer string) string {
	st := s.store.Get(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.strategy, st.sticky = r.Strategy, r.Sticky
	if st.hasPin {
		return st.pinned
	}
	st.pinned, st.hasPin = peer, true
	return peer
}

// ClearSticky drops the sticky pin of selectorID in the selection context of
// ctx. It is a no-op when no pin exists.
func (s *Selector) ClearSticky(ctx context.Context, selectorID string) {
	st, ok := s.store.Lookup(Key{Context: SelectionID(ctx), Selector: selectorID})
	if !ok {
		return
	}
	st.mu.Lock()
	st.pinned, st.hasPin = "", false
	st.mu.Unlock()
}

// ResetRoundRobin forgets the round-robin cursor of selectorID in the
// selection context of ctx. The next selection starts at a random index.
func (s *Selector) ResetRoundRobin(ctx context.Context, selectorID string) {
	st, ok := s.store.Lookup(Key{Context: SelectionID(ctx), Selector: selectorID})
	if !ok {
		return
	}
	st.mu.Lock()
	st.cursor, st.hasCursor = 0, false
	st.mu.Unlock()
}

// Release drops all selector state of the selection context of ctx. Call it
// when the context ends.
func (s *Selector) Release(ctx context.Context) {
	s.store.DeleteContext(SelectionID(ctx))
}

func hashIndex(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

func dedupe(peers []string) []string {
	seen := make(map[string]bool, len(peers))
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
