package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/vietddude/peercall/internal/infra/rpc/provider"
)

var (
	peerListen string
	peerName   string
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a gRPC peer that echoes every call",
	Long: `Run a gRPC peer that answers every "/<target>/<operation>" call with
its own name and the call's arguments. Operation "sleep" waits for the
number of milliseconds given as its first argument.`,
	RunE: runPeer,
}

func init() {
	peerCmd.Flags().StringVar(&peerListen, "listen", ":50051", "listen address")
	peerCmd.Flags().StringVar(&peerName, "name", "", "peer name reported in replies (default: listen address)")
	rootCmd.AddCommand(peerCmd)
}

func runPeer(cmd *cobra.Command, args []string) error {
	stylelog.InitDefault(&tint.Options{
		Level:      logLevel("", isDebug),
		TimeFormat: time.RFC3339,
	})
	name := peerName
	if name == "" {
		name = peerListen
	}

	lis, err := net.Listen("tcp", peerListen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := grpc.NewServer(provider.UnknownServiceHandler(echoHandler(name)))
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
		srv.GracefulStop()
	}()

	slog.Info("Peer started", "name", name, "listen", lis.Addr().String())
	return srv.Serve(lis)
}

// echoHandler replies to every call with the peer name and the call.
func echoHandler(name string) provider.HandlerFunc {
	return func(ctx context.Context, target, operation string, args []any) (any, error) {
		if operation == "sleep" && len(args) > 0 {
			if ms, ok := args[0].(float64); ok {
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
				case <-ctx.Done():
					return nil, status.FromContextError(ctx.Err()).Err()
				}
			}
		}
		slog.Debug("Serving call", "target", target, "operation", operation, "args", len(args))
		return map[string]any{
			"peer":      name,
			"target":    target,
			"operation": operation,
			"args":      args,
		}, nil
	}
}
