package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vietddude/peercall/internal/core/config"
	redisclient "github.com/vietddude/peercall/internal/infra/redis"
	"github.com/vietddude/peercall/internal/infra/rpc/engine"
	"github.com/vietddude/peercall/internal/infra/rpc/provider"
	"github.com/vietddude/peercall/internal/infra/rpc/routing"
	"github.com/vietddude/peercall/internal/infra/storage/postgres"
)

// Resolver reference prefixes selecting a backend explicitly.
const (
	backendRedis    = "redis"
	backendPostgres = "postgres"
)

// runtime holds the components shared by the commands.
type runtime struct {
	cfg      *config.AppConfig
	redis    *redisclient.Client
	db       *postgres.DB
	grpc     *provider.GRPCCaller
	http     *provider.HTTPCaller
	selector *routing.Selector
	engine   *engine.Engine
}

func newRuntime(ctx context.Context, cfg *config.AppConfig) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	if cfg.Redis.Enabled() {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		slog.Info("Using Redis routing store", "url", cfg.Redis.URL)
	}

	if cfg.Database.Enabled() {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		rt.db = db
		if err := db.Migrate(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		slog.Info("Using PostgreSQL peer store")
	}

	registry := routing.NewRegistry()
	for _, name := range resolverNames(cfg.Targets) {
		res, err := rt.resolver(name)
		if err != nil {
			rt.Close()
			return nil, err
		}
		registry.Register(name, res)
	}

	rt.selector = routing.NewSelector(routing.NewMemoryStore(), registry)
	rt.grpc = provider.NewGRPCCaller()
	rt.http = provider.NewHTTPCaller()

	var opts []engine.Option
	if rt.redis != nil {
		opts = append(opts, engine.WithRoutingStore(rt.redis))
	}
	rt.engine = engine.New(rt.selector, provider.NewDispatcher(rt.grpc, rt.http), opts...)
	return rt, nil
}

// resolver returns the resolver backing the reference name.
func (rt *runtime) resolver(name string) (routing.Resolver, error) {
	backend, set, err := rt.backend(name)
	if err != nil {
		return nil, err
	}
	if backend == backendRedis {
		return rt.redis.Resolver(set), nil
	}
	return rt.db.Resolver(set), nil
}

// backend picks the store holding the peer set of reference name. Names
// without a prefix use Redis when it is configured, then PostgreSQL.
func (rt *runtime) backend(name string) (backend, set string, err error) {
	backend, set = splitResolver(name)
	if backend == "" {
		switch {
		case rt.redis != nil:
			backend = backendRedis
		case rt.db != nil:
			backend = backendPostgres
		}
	}

	switch {
	case backend == backendRedis && rt.redis != nil:
		return backend, set, nil
	case backend == backendPostgres && rt.db != nil:
		return backend, set, nil
	default:
		return "", "", fmt.Errorf("resolver %q has no configured backend", name)
	}
}

// Close releases the runtime's connections.
func (rt *runtime) Close() error {
	var errs []error
	if rt.grpc != nil {
		errs = append(errs, rt.grpc.Close())
	}
	if rt.http != nil {
		errs = append(errs, rt.http.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
	}
	return errors.Join(errs...)
}

// splitResolver splits a "redis:set" or "postgres:set" reference. Other
// references have no explicit backend.
func splitResolver(name string) (backend, set string) {
	if b, s, ok := strings.Cut(name, ":"); ok && (b == backendRedis || b == backendPostgres) {
		return b, s
	}
	return "", name
}

// resolverNames returns the distinct resolver references of targets in
// first-seen order.
func resolverNames(targets []config.Configuration) []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range targets {
		name := t.Routing.Peers.Resolver
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
