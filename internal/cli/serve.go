package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/peercall/internal/health"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the diagnostics server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return err
	}
	defer func() {
		_ = rt.Close()
	}()

	if rt.db != nil {
		rt.db.StartMetricsCollector(ctx)
	}

	monitor := health.NewMonitor(rt.selector, cfg.Targets)
	if rt.redis != nil {
		monitor.AddDependency(backendRedis, rt.redis.Health)
	}
	if rt.db != nil {
		monitor.AddDependency(backendPostgres, rt.db.Health)
	}
	server := health.NewServer(monitor, rt.engine, cfg.Targets, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("Diagnostics server started", "port", cfg.Server.Port, "targets", len(cfg.Targets))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case err := <-errCh:
		slog.Error("Diagnostics server failed", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		return err
	}
	return nil
}
