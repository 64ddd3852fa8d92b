// Package provider implements the raw call primitive: invoke an operation of
// a target on one peer with a timeout.
//
// This package contains:
//   - Caller interface: the contract the execution engine depends on
//   - GRPCCaller: calls over gRPC with structpb-encoded arguments
//   - HTTPCaller: calls over JSON-RPC 2.0 on HTTP
//   - Dispatcher: picks a caller by the peer's address scheme
//
// Callers report failures as *rpcerr.Fault values tagged with the nature of
// the failure.
package provider

import (
	"context"
	"strings"
	"time"
)

// Request is a single call attempt.
type Request struct {
	Peer      string
	Target    string
	Operation string
	Args      []any

	// Timeout bounds the attempt. Zero means no timeout.
	Timeout time.Duration
}

// Caller performs one remote call attempt.
type Caller interface {
	Call(ctx context.Context, req Request) (any, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request) (any, error)

// Call calls f.
func (f CallerFunc) Call(ctx context.Context, req Request) (any, error) { return f(ctx, req) }

// withTimeout derives the attempt context for req.
func withTimeout(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		return context.WithTimeout(ctx, req.Timeout)
	}
	return context.WithCancel(ctx)
}

// Dispatcher routes each request to the caller registered for the scheme
// of its peer address. Peers without a registered scheme go to Default.
type Dispatcher struct {
	Default Caller
	Schemes map[string]Caller
}

// NewDispatcher creates a dispatcher that sends http:// and https:// peers
// to httpCaller and everything else to grpcCaller.
func NewDispatcher(grpcCaller, httpCaller Caller) *Dispatcher {
	return &Dispatcher{
		Default: grpcCaller,
		Schemes: map[string]Caller{
			"grpc":  grpcCaller,
			"http":  httpCaller,
			"https": httpCaller,
		},
	}
}

// Call forwards req to the caller for its peer.
func (d *Dispatcher) Call(ctx context.Context, req Request) (any, error) {
	if scheme, _, ok := strings.Cut(req.Peer, "://"); ok {
		if c, ok := d.Schemes[scheme]; ok && c != nil {
			return c.Call(ctx, req)
		}
	}
	return d.Default.Call(ctx, req)
}
