package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vietddude/peercall/internal/core/rpcerr"
	"github.com/vietddude/peercall/internal/infra/rpc/provider"
	"github.com/vietddude/peercall/internal/infra/rpc/routing"
)

// cluster runs in-process gRPC peers. Peers without a listener refuse
// connections.
type cluster struct {
	listeners map[string]*bufconn.Listener
}

func newCluster(t *testing.T, up ...string) *cluster {
	t.Helper()
	c := &cluster{listeners: make(map[string]*bufconn.Listener)}
	for _, name := range up {
		lis := bufconn.Listen(1 << 20)
		srv := grpc.NewServer(provider.UnknownServiceHandler(
			func(ctx context.Context, target, operation string, args []any) (any, error) {
				if operation == "slow" {
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				if operation == "fail" {
					return nil, errors.New("operation failed")
				}
				return map[string]any{"peer": name, "op": target + "." + operation, "n": float64(len(args))}, nil
			},
		))
		go srv.Serve(lis)
		t.Cleanup(srv.Stop)
		c.listeners[name] = lis
	}
	return c
}

func (c *cluster) caller(t *testing.T) *GRPCCaller {
	t.Helper()
	caller := NewGRPCCaller(
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			lis, ok := c.listeners[addr]
			if !ok {
				return nil, fmt.Errorf("dial %s: connection refused", addr)
			}
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	t.Cleanup(func() { caller.Close() })
	return caller
}

func firstIndex(int) int { return 0 }

func mustConfig(t *testing.T, raw RawOptions) Configuration {
	t.Helper()
	cfg, err := ValidateConfiguration(raw)
	if err != nil {
		t.Fatalf("ValidateConfiguration failed: %v", err)
	}
	return cfg
}

func TestEndToEnd_FailoverToHealthyPeer(t *testing.T) {
	c := newCluster(t, "up")
	engine := NewEngine(NewSelector(nil, nil, routing.WithRand(firstIndex)), c.caller(t))

	cfg := mustConfig(t, RawOptions{
		"target":   "billing",
		"peers":    []any{"down", "up"},
		"strategy": "round_robin",
		"retry":    1,
		"timeout":  2000,
	})

	ctx := WithSelectionContext(context.Background())
	res := engine.ExecuteWithRetry(ctx, cfg, "charge", []any{"acct-1", 42})
	if !res.OK() {
		t.Fatalf("ExecuteWithRetry failed: %v", res.Err)
	}
	got, ok := res.Value.(map[string]any)
	if !ok || got["peer"] != "up" || got["op"] != "billing.charge" || got["n"] != float64(2) {
		t.Errorf("value = %#v", res.Value)
	}
}

func TestEndToEnd_Exhaustion(t *testing.T) {
	c := newCluster(t)
	engine := NewEngine(NewSelector(nil, nil, routing.WithRand(firstIndex)), c.caller(t))

	cfg := mustConfig(t, RawOptions{
		"target":   "billing",
		"peers":    []any{"down-1", "down-2"},
		"strategy": "round_robin",
		"retry":    2,
		"timeout":  2000,
	})

	res := engine.ExecuteWithRetry(WithSelectionContext(context.Background()), cfg, "charge", nil)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Err.Kind != rpcerr.KindPeer {
		t.Errorf("kind = %s, want peer", res.Err.Kind)
	}
	if attempt, _ := res.Err.Detail(rpcerr.DetailAttempt); attempt != 2 {
		t.Errorf("attempt = %v, want 2", attempt)
	}
	if peer, _ := res.Err.Detail(rpcerr.DetailPeer); peer != "down-1" {
		t.Errorf("peer = %v, want down-1", peer)
	}
}

func TestEndToEnd_TimeoutAndRemoteErrors(t *testing.T) {
	c := newCluster(t, "up")
	engine := NewEngine(NewSelector(nil, nil), c.caller(t))

	cfg := mustConfig(t, RawOptions{
		"target":         "billing",
		"peers":          []any{"up"},
		"timeout":        50,
		"error_handling": true,
	})

	tests := []struct {
		operation string
		want      rpcerr.Kind
	}{
		{"slow", rpcerr.KindTimeout},
		{"fail", rpcerr.KindRPC},
	}
	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			_, err := engine.Execute(context.Background(), cfg, tt.operation, nil)
			if !rpcerr.IsKind(err, tt.want) {
				t.Errorf("err = %v, want kind %s", err, tt.want)
			}
		})
	}
}

func TestEndToEnd_StickyWithinContext(t *testing.T) {
	c := newCluster(t, "a", "b", "c")
	engine := NewEngine(NewSelector(nil, nil), c.caller(t))

	cfg := mustConfig(t, RawOptions{
		"target":         "session",
		"peers":          []any{"a", "b", "c"},
		"strategy":       "sticky",
		"error_handling": true,
	})

	ctx := WithSelectionContext(context.Background())
	var first string
	for i := 0; i < 5; i++ {
		v, err := engine.Execute(ctx, cfg, "ping", nil)
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		peer := v.(map[string]any)["peer"].(string)
		if i == 0 {
			first = peer
		} else if peer != first {
			t.Fatalf("call %d went to %s, want pinned %s", i, peer, first)
		}
	}
}

func TestEndToEnd_MixedTransports(t *testing.T) {
	c := newCluster(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": req.Method})
	}))
	defer ts.Close()

	httpCaller := NewHTTPCaller()
	defer httpCaller.Close()

	engine := NewEngine(
		NewSelector(nil, nil, routing.WithRand(firstIndex)),
		provider.NewDispatcher(c.caller(t), httpCaller),
	)
	cfg := mustConfig(t, RawOptions{
		"target":   "search",
		"peers":    []any{"grpc://down", ts.URL},
		"strategy": "round_robin",
		"retry":    1,
	})

	res := engine.ExecuteWithRetry(WithSelectionContext(context.Background()), cfg, "query", []any{"q"})
	if !res.OK() {
		t.Fatalf("ExecuteWithRetry failed: %v", res.Err)
	}
	if res.Value != "search.query" {
		t.Errorf("value = %v, want search.query", res.Value)
	}
}
