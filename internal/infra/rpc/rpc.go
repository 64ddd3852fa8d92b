// Package rpc lets callers run an operation on a remote peer as if it were
// a local call, with pluggable peer selection, timeouts, bounded retry and
// typed error reporting.
//
// # Quick Start
//
//	import "github.com/vietddude/peercall/internal/infra/rpc"
//
//	cfg, err := rpc.ValidateConfiguration(rpc.RawOptions{
//	    "target":   "billing",
//	    "peers":    []any{"10.0.0.1:50051", "10.0.0.2:50051"},
//	    "strategy": "round_robin",
//	    "retry":    2,
//	})
//
//	caller := rpc.NewGRPCCaller()
//	engine := rpc.NewEngine(rpc.NewSelector(nil, nil), caller)
//
//	ctx = rpc.WithSelectionContext(ctx)
//	res := engine.ExecuteWithRetry(ctx, cfg, "charge", []any{"acct-1", 42})
//
// # Package Structure
//
//   - provider/ - the raw call primitive (gRPC, JSON-RPC over HTTP)
//   - routing/  - peer resolution, selection strategies, selection contexts
//   - engine/   - the select, call, classify and retry loop
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/vietddude/peercall/internal/core/config"
	"github.com/vietddude/peercall/internal/core/rpcerr"
	"github.com/vietddude/peercall/internal/infra/rpc/engine"
	"github.com/vietddude/peercall/internal/infra/rpc/provider"
	"github.com/vietddude/peercall/internal/infra/rpc/routing"
)

// =============================================================================
// Re-exported types from config and rpcerr
// =============================================================================

// Configuration describes a remote target.
type Configuration = config.Configuration

// RawOptions is the unvalidated form of a Configuration.
type RawOptions = config.RawOptions

// Error is a typed, classified failure.
type Error = rpcerr.Error

// ValidateConfiguration checks raw options and builds a Configuration.
func ValidateConfiguration(raw RawOptions) (Configuration, error) {
	return config.Validate(raw)
}

// =============================================================================
// Re-exported types from provider package
// =============================================================================

// Caller is the raw call primitive.
type Caller = provider.Caller

// Request is a single call attempt.
type Request = provider.Request

// GRPCCaller calls operations over gRPC.
type GRPCCaller = provider.GRPCCaller

// HTTPCaller calls operations over JSON-RPC on HTTP.
type HTTPCaller = provider.HTTPCaller

// NewGRPCCaller creates a gRPC caller.
func NewGRPCCaller(opts ...grpc.DialOption) *GRPCCaller {
	return provider.NewGRPCCaller(opts...)
}

// NewHTTPCaller creates a JSON-RPC over HTTP caller.
func NewHTTPCaller() *HTTPCaller {
	return provider.NewHTTPCaller()
}

// =============================================================================
// Re-exported types from routing package
// =============================================================================

// Selector chooses a peer for each call.
type Selector = routing.Selector

// Resolver returns a peer set at call time.
type Resolver = routing.Resolver

// Registry maps resolver names to resolvers.
type Registry = routing.Registry

// NewSelector creates a selector. A nil store uses an in-memory store.
func NewSelector(store routing.StateStore, resolvers *Registry, opts ...routing.Option) *Selector {
	return routing.NewSelector(store, resolvers, opts...)
}

// NewRegistry creates an empty resolver registry.
func NewRegistry() *Registry {
	return routing.NewRegistry()
}

// WithSelectionContext starts a new selection context on ctx.
func WithSelectionContext(ctx context.Context) context.Context {
	return routing.WithSelectionContext(ctx)
}

// =============================================================================
// Re-exported types from engine package
// =============================================================================

// Engine executes remote operations.
type Engine = engine.Engine

// Result is the outcome of a wrapped execution.
type Result = engine.Result

// NewEngine creates an execution engine.
func NewEngine(selector *Selector, caller Caller, opts ...engine.Option) *Engine {
	return engine.New(selector, caller, opts...)
}
