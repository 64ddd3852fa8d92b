package provider

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vietddude/peercall/internal/core/rpcerr"
)

func startServer(t *testing.T, h HandlerFunc) *GRPCCaller {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(UnknownServiceHandler(h))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c := NewGRPCCaller(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGRPCCaller_Call(t *testing.T) {
	var gotTarget, gotOp string
	var gotArgs []any
	c := startServer(t, func(_ context.Context, target, op string, args []any) (any, error) {
		gotTarget, gotOp, gotArgs = target, op, args
		return map[string]any{"ok": true, "n": float64(len(args))}, nil
	})

	result, err := c.Call(context.Background(), Request{
		Peer:      "bufnet",
		Target:    "billing",
		Operation: "charge",
		Args:      []any{"acct-1", 42},
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if gotTarget != "billing" || gotOp != "charge" {
		t.Errorf("server saw %s/%s", gotTarget, gotOp)
	}
	if diff := cmp.Diff([]any{"acct-1", float64(42)}, gotArgs); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
	want := map[string]any{"ok": true, "n": float64(2)}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
}

func TestGRPCCaller_RemoteError(t *testing.T) {
	c := startServer(t, func(context.Context, string, string, []any) (any, error) {
		return nil, errors.New("insufficient funds")
	})

	_, err := c.Call(context.Background(), Request{Peer: "bufnet", Target: "billing", Operation: "charge"})
	var f *rpcerr.Fault
	if !errors.As(err, &f) || f.Kind != rpcerr.FaultRemote {
		t.Fatalf("err = %v, want remote fault", err)
	}
	if status.Code(f.Err) != codes.Unknown {
		t.Errorf("status code = %v, want Unknown", status.Code(f.Err))
	}
}

func TestGRPCCaller_Timeout(t *testing.T) {
	c := startServer(t, func(ctx context.Context, _, _ string, _ []any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := c.Call(context.Background(), Request{
		Peer: "bufnet", Target: "billing", Operation: "slow", Timeout: 50 * time.Millisecond,
	})
	var f *rpcerr.Fault
	if !errors.As(err, &f) || f.Kind != rpcerr.FaultTimeout {
		t.Fatalf("err = %v, want timeout fault", err)
	}
}

func TestGRPCCaller_BadArgs(t *testing.T) {
	c := NewGRPCCaller()
	_, err := c.Call(context.Background(), Request{
		Peer: "127.0.0.1:1", Target: "billing", Operation: "charge", Args: []any{make(chan int)},
	})
	var f *rpcerr.Fault
	if !errors.As(err, &f) || f.Kind != rpcerr.FaultBadInput {
		t.Fatalf("err = %v, want bad input fault", err)
	}
}

func TestGRPCFault(t *testing.T) {
	tests := []struct {
		err  error
		want rpcerr.FaultKind
	}{
		{status.Error(codes.DeadlineExceeded, "late"), rpcerr.FaultTimeout},
		{status.Error(codes.Unavailable, "down"), rpcerr.FaultDisconnected},
		{status.Error(codes.Canceled, "gone"), rpcerr.FaultDisconnected},
		{status.Error(codes.InvalidArgument, "bad"), rpcerr.FaultRemote},
		{status.Error(codes.Internal, "boom"), rpcerr.FaultRemote},
		{context.DeadlineExceeded, rpcerr.FaultTimeout},
		{errors.New("plain"), rpcerr.FaultRemote},
	}
	for _, tt := range tests {
		if got := grpcFault(tt.err).Kind; got != tt.want {
			t.Errorf("grpcFault(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDialTarget(t *testing.T) {
	tests := map[string]string{
		"10.0.0.1:50051":         "passthrough:///10.0.0.1:50051",
		"grpc://10.0.0.1:50051":  "passthrough:///10.0.0.1:50051",
		"dns:///billing.svc:443": "dns:///billing.svc:443",
	}
	for in, want := range tests {
		if got := dialTarget(in); got != want {
			t.Errorf("dialTarget(%q) = %q, want %q", in, got, want)
		}
	}
}
