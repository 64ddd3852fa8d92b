package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/peercall/internal/core/rpcerr"
)

// Method returns the full gRPC method name of an operation of target.
func Method(target, operation string) string {
	return "/" + target + "/" + operation
}

// GRPCCaller calls operations over gRPC. Arguments are sent as a
// structpb.ListValue and the result is decoded from a structpb.Value.
// One client connection is kept per peer.
type GRPCCaller struct {
	opts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCCaller creates a gRPC caller. When opts is empty, peers on port
// 443 use TLS and all others use insecure credentials.
func NewGRPCCaller(opts ...grpc.DialOption) *GRPCCaller {
	return &GRPCCaller{
		opts:  opts,
		conns: make(map[string]*grpc.ClientConn),
	}
}

// Call invokes req.Operation on req.Peer.
func (c *GRPCCaller) Call(ctx context.Context, req Request) (any, error) {
	in, err := structpb.NewList(req.Args)
	if err != nil {
		return nil, rpcerr.NewFault(rpcerr.FaultBadInput, fmt.Errorf("encode arguments: %w", err))
	}

	conn, err := c.conn(req.Peer)
	if err != nil {
		return nil, rpcerr.NewFault(rpcerr.FaultDisconnected, err)
	}

	ctx, cancel := withTimeout(ctx, req)
	defer cancel()

	out := new(structpb.Value)
	if err := conn.Invoke(ctx, Method(req.Target, req.Operation), in, out); err != nil {
		return nil, grpcFault(err)
	}
	return out.AsInterface(), nil
}

// Close closes every peer connection.
func (c *GRPCCaller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for peer, conn := range c.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", peer, err))
		}
		delete(c.conns, peer)
	}
	return errors.Join(errs...)
}

func (c *GRPCCaller) conn(peer string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[peer]; ok {
		return conn, nil
	}

	opts := c.opts
	if len(opts) == 0 {
		opts = defaultDialOptions(peer)
	}
	conn, err := grpc.NewClient(dialTarget(peer), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", peer, err)
	}
	c.conns[peer] = conn
	return conn, nil
}

func defaultDialOptions(peer string) []grpc.DialOption {
	if strings.HasSuffix(peer, ":443") {
		return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{}))}
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

// dialTarget turns a peer address into a gRPC target. Bare host:port
// addresses are dialed directly.
func dialTarget(peer string) string {
	if rest, ok := strings.CutPrefix(peer, "grpc://"); ok {
		peer = rest
	}
	if strings.Contains(peer, ":///") {
		return peer
	}
	return "passthrough:///" + peer
}

// grpcFault tags a gRPC error with the nature of the failure.
func grpcFault(err error) *rpcerr.Fault {
	if errors.Is(err, context.DeadlineExceeded) {
		return rpcerr.NewFault(rpcerr.FaultTimeout, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return rpcerr.NewFault(rpcerr.FaultRemote, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return rpcerr.NewFault(rpcerr.FaultTimeout, err)
	case codes.Unavailable, codes.Canceled:
		return rpcerr.NewFault(rpcerr.FaultDisconnected, err)
	default:
		return rpcerr.NewFault(rpcerr.FaultRemote, err)
	}
}

// HandlerFunc executes an operation of a target on the serving side.
type HandlerFunc func(ctx context.Context, target, operation string, args []any) (any, error)

// UnknownServiceHandler returns a server option that serves every method
// "/<target>/<operation>" through h, using the same encoding as GRPCCaller.
// Errors that already carry a gRPC status are returned as is; others are
// reported with codes.Unknown.
func UnknownServiceHandler(h HandlerFunc) grpc.ServerOption {
	return grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, ok := grpc.MethodFromServerStream(stream)
		if !ok {
			return status.Error(codes.Internal, "method not found in stream")
		}
		target, operation, ok := strings.Cut(strings.TrimPrefix(method, "/"), "/")
		if !ok {
			return status.Errorf(codes.Unimplemented, "malformed method %q", method)
		}

		in := new(structpb.ListValue)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}

		args := make([]any, len(in.GetValues()))
		for i, v := range in.GetValues() {
			args[i] = v.AsInterface()
		}

		result, err := h(stream.Context(), target, operation, args)
		if err != nil {
			if _, ok := status.FromError(err); ok {
				return err
			}
			return status.Error(codes.Unknown, err.Error())
		}

		out, err := structpb.NewValue(result)
		if err != nil {
			return status.Errorf(codes.Internal, "encode result: %v", err)
		}
		return stream.SendMsg(out)
	})
}
