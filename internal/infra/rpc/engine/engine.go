// Package engine executes operations on remote peers: it selects a peer,
// invokes the call primitive, classifies faults and retries within the
// configured budget.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/peercall/internal/core/config"
	"github.com/vietddude/peercall/internal/core/rpcerr"
	"github.com/vietddude/peercall/internal/infra/rpc/provider"
	"github.com/vietddude/peercall/internal/infra/rpc/routing"
	"github.com/vietddude/peercall/internal/metrics"
)

// RoutingStore supplies routing records for targets at call time. Records
// use the strategy, sticky, peers and resolver keys of a target
// configuration.
type RoutingStore interface {
	Routing(ctx context.Context, target string) (map[string]any, error)
}

// Engine executes remote operations. It is safe for concurrent use; per
// selection context state lives in the selector.
type Engine struct {
	selector *routing.Selector
	caller   provider.Caller
	routes   RoutingStore
	log      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRoutingStore sets the store consulted by ExecuteDynamic.
func WithRoutingStore(store RoutingStore) Option {
	return func(e *Engine) { e.routes = store }
}

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an engine that picks peers with selector and calls them with
// caller.
func New(selector *routing.Selector, caller provider.Caller, opts ...Option) *Engine {
	e := &Engine{
		selector: selector,
		caller:   caller,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute calls operation on a peer of cfg's target.
//
// When the effective configuration has error handling disabled and no
// retries, a single attempt is made and its raw fault is returned
// unchanged. Otherwise Execute behaves like ExecuteWithRetry and any error
// is an *rpcerr.Error. Routing store failures of dynamic configurations are
// always typed.
func (e *Engine) Execute(ctx context.Context, cfg config.Configuration, operation string, args []any) (any, error) {
	eff, remote := cfg.ForOperation(operation, len(args))
	if verr := validateCall(eff, remote); verr != nil {
		return nil, verr
	}
	eff, perr := e.routed(ctx, eff, remote)
	if perr != nil {
		return nil, perr
	}
	if eff.Wrapped() {
		return e.run(ctx, eff, remote, args).Unwrap()
	}

	peer, err := e.selector.Select(ctx, eff.Selector(), eff.Routing, HashKey(eff.Target, args))
	if err != nil {
		return nil, err
	}
	value, err := e.attempt(ctx, eff, remote, peer, args)
	if err != nil {
		metrics.RPCOutcomesTotal.WithLabelValues(eff.Target, remote, "error").Inc()
		return nil, err
	}
	metrics.RPCOutcomesTotal.WithLabelValues(eff.Target, remote, "ok").Inc()
	return value, nil
}

// ExecuteWithRetry calls operation on a peer of cfg's target, retrying
// failed attempts up to the retry budget. It never returns a raw fault.
// Dynamic configurations take their routing from the routing store.
func (e *Engine) ExecuteWithRetry(ctx context.Context, cfg config.Configuration, operation string, args []any) Result {
	eff, remote := cfg.ForOperation(operation, len(args))
	if verr := validateCall(eff, remote); verr != nil {
		return Err(verr)
	}
	eff, perr := e.routed(ctx, eff, remote)
	if perr != nil {
		return Err(perr)
	}
	return e.run(ctx, eff, remote, args)
}

// ExecuteDynamic is ExecuteWithRetry with the routing of cfg replaced by
// the record the routing store holds for the target at the time of the
// call.
func (e *Engine) ExecuteDynamic(ctx context.Context, cfg config.Configuration, operation string, args []any) Result {
	eff, remote := cfg.ForOperation(operation, len(args))
	if verr := validateCall(eff, remote); verr != nil {
		return Err(verr)
	}

	eff.Dynamic = true
	eff, perr := e.routed(ctx, eff, remote)
	if perr != nil {
		return Err(perr)
	}
	return e.run(ctx, eff, remote, args)
}

// SelectPeer returns the peer a call with hashKey would be sent to, without
// calling it. An empty selectorID uses the configuration's selector.
// Dynamic configurations are routed by the routing store.
func (e *Engine) SelectPeer(ctx context.Context, selectorID string, cfg config.Configuration, hashKey string) (string, error) {
	if selectorID == "" {
		selectorID = cfg.Selector()
	}
	r := cfg.Routing
	if cfg.Dynamic {
		var perr *rpcerr.Error
		if r, perr = e.dynamicRouting(ctx, cfg.Target); perr != nil {
			return "", perr
		}
	}
	return e.selector.Select(ctx, selectorID, r, hashKey)
}

// ClearSticky drops the sticky pin of selectorID in the selection context
// of ctx.
func (e *Engine) ClearSticky(ctx context.Context, selectorID string) {
	e.selector.ClearSticky(ctx, selectorID)
}

// ResetRoundRobin resets the round-robin cursor of selectorID in the
// selection context of ctx.
func (e *Engine) ResetRoundRobin(ctx context.Context, selectorID string) {
	e.selector.ResetRoundRobin(ctx, selectorID)
}

// run is the retry loop shared by the wrapped entry points.
func (e *Engine) run(ctx context.Context, cfg config.Configuration, operation string, args []any) Result {
	if verr := validateCall(cfg, operation); verr != nil {
		return Err(verr)
	}

	hashKey := HashKey(cfg.Target, args)
	var (
		firstPeer string
		lastErr   *rpcerr.Error
	)

	for attempt := 0; ; attempt++ {
		peer, err := e.pickPeer(ctx, cfg, firstPeer, hashKey)
		if err == nil {
			if firstPeer == "" {
				firstPeer = peer
			}
			var value any
			value, err = e.attempt(ctx, cfg, operation, peer, args)
			if err == nil {
				metrics.RPCOutcomesTotal.WithLabelValues(cfg.Target, operation, "ok").Inc()
				return Ok(value)
			}
		}

		lastErr = rpcerr.Classify(err, rpcerr.Attempt{
			Target:    cfg.Target,
			Operation: operation,
			Peer:      peer,
			Index:     attempt,
		})
		metrics.RPCErrorsTotal.WithLabelValues(cfg.Target, peer, string(lastErr.Kind)).Inc()
		e.log.Debug("Call attempt failed",
			"target", cfg.Target,
			"operation", operation,
			"peer", peer,
			"attempt", attempt,
			"kind", lastErr.Kind,
			"error", err,
		)

		if !retryable(lastErr.Kind) || attempt >= cfg.RetryBudget || ctx.Err() != nil {
			break
		}
	}

	metrics.RPCOutcomesTotal.WithLabelValues(cfg.Target, operation, "error").Inc()
	if cfg.RetryBudget > 0 {
		e.log.Warn("Call failed after retries",
			"target", cfg.Target,
			"operation", operation,
			"retries", cfg.RetryBudget,
			"error", lastErr,
		)
	}
	return Err(lastErr)
}

// pickPeer selects the peer for the next attempt. With RetrySame, retries
// go back to the peer of the first successful selection.
func (e *Engine) pickPeer(ctx context.Context, cfg config.Configuration, firstPeer, hashKey string) (string, error) {
	if firstPeer != "" && cfg.RetryPeer == config.RetrySame {
		return firstPeer, nil
	}
	return e.selector.Select(ctx, cfg.Selector(), cfg.Routing, hashKey)
}

// attempt performs one call and records its metrics.
func (e *Engine) attempt(ctx context.Context, cfg config.Configuration, operation, peer string, args []any) (any, error) {
	metrics.RPCAttemptsTotal.WithLabelValues(cfg.Target, operation, peer).Inc()
	start := time.Now()
	value, err := e.caller.Call(ctx, provider.Request{
		Peer:      peer,
		Target:    cfg.Target,
		Operation: operation,
		Args:      args,
		Timeout:   cfg.Timeout,
	})
	metrics.RPCLatency.WithLabelValues(cfg.Target, operation).Observe(time.Since(start).Seconds())
	return value, err
}

// routed replaces the routing of a dynamic configuration with the record
// the routing store holds for its target. A failed lookup is counted as a
// failed call.
func (e *Engine) routed(ctx context.Context, cfg config.Configuration, operation string) (config.Configuration, *rpcerr.Error) {
	if !cfg.Dynamic {
		return cfg, nil
	}
	r, perr := e.dynamicRouting(ctx, cfg.Target)
	if perr != nil {
		metrics.RPCOutcomesTotal.WithLabelValues(cfg.Target, operation, "error").Inc()
		return cfg, perr
	}
	return cfg.WithRouting(r), nil
}

func (e *Engine) dynamicRouting(ctx context.Context, target string) (config.Routing, *rpcerr.Error) {
	details := map[string]any{rpcerr.DetailTarget: target, rpcerr.DetailAttempt: 0}
	if e.routes == nil {
		return config.Routing{}, rpcerr.New(rpcerr.KindPeer, "no routing store configured", details)
	}

	raw, err := e.routes.Routing(ctx, target)
	if err != nil {
		return config.Routing{}, rpcerr.Wrap(rpcerr.KindPeer, err,
			"routing lookup failed: "+err.Error(), details)
	}
	r, err := config.ValidateRouting(raw)
	if err != nil {
		return config.Routing{}, rpcerr.Wrap(rpcerr.KindPeer, err,
			"invalid routing record for "+strconv.Quote(target)+": "+err.Error(), details)
	}
	return r, nil
}

// validateCall rejects calls that cannot be attempted.
func validateCall(cfg config.Configuration, operation string) *rpcerr.Error {
	details := map[string]any{rpcerr.DetailPeer: "", rpcerr.DetailAttempt: 0}
	if cfg.Target == "" {
		return rpcerr.New(rpcerr.KindValidation, "configuration has no target", details)
	}
	if operation == "" {
		details[rpcerr.DetailTarget] = cfg.Target
		return rpcerr.New(rpcerr.KindValidation, "operation name is required", details)
	}
	return nil
}

// retryable reports whether a failure of kind may be retried.
func retryable(kind rpcerr.Kind) bool {
	switch kind {
	case rpcerr.KindPeer, rpcerr.KindTimeout, rpcerr.KindRPC:
		return true
	default:
		return false
	}
}

// HashKey is the routing key of a call: the target and its arguments.
// Arguments are rendered by value: pointers are followed and map keys are
// sorted, so equal arguments of equal types produce equal keys.
func HashKey(target string, args []any) string {
	var sb strings.Builder
	sb.WriteString(target)
	sb.WriteByte(0)
	writeKey(&sb, reflect.ValueOf(args), 0)
	return sb.String()
}

// maxKeyDepth bounds how deep writeKey follows nested values.
const maxKeyDepth = 32

func writeKey(sb *strings.Builder, v reflect.Value, depth int) {
	if !v.IsValid() {
		sb.WriteString("nil")
		return
	}
	if depth > maxKeyDepth {
		sb.WriteString("...")
		return
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			fmt.Fprintf(sb, "%s(nil)", v.Type())
			return
		}
		writeKey(sb, v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		sb.WriteString(v.Type().String())
		sb.WriteByte('{')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeKey(sb, v.Index(i), depth+1)
		}
		sb.WriteByte('}')
	case reflect.Map:
		entries := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			var entry strings.Builder
			writeKey(&entry, iter.Key(), depth+1)
			entry.WriteByte(':')
			writeKey(&entry, iter.Value(), depth+1)
			entries = append(entries, entry.String())
		}
		sort.Strings(entries)
		sb.WriteString(v.Type().String())
		sb.WriteByte('{')
		sb.WriteString(strings.Join(entries, ", "))
		sb.WriteByte('}')
	case reflect.Struct:
		t := v.Type()
		sb.WriteString(t.String())
		sb.WriteByte('{')
		for i := 0; i < v.NumField(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.Field(i).Name)
			sb.WriteByte(':')
			writeKey(sb, v.Field(i), depth+1)
		}
		sb.WriteByte('}')
	default:
		fmt.Fprintf(sb, "%#v", v)
	}
}
