package cli

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vietddude/peercall/internal/core/config"
	redisclient "github.com/vietddude/peercall/internal/infra/redis"
	"github.com/vietddude/peercall/internal/infra/storage/postgres"
)

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"42", `"quoted"`, "plain", `{"a":1}`, "[1,2]", "true", "null"})
	want := []any{
		float64(42),
		"quoted",
		"plain",
		map[string]any{"a": float64(1)},
		[]any{float64(1), float64(2)},
		true,
		nil,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		want  slog.Level
	}{
		{"", false, slog.LevelInfo},
		{"info", false, slog.LevelInfo},
		{"debug", false, slog.LevelDebug},
		{"warn", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"error", true, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := logLevel(tt.name, tt.debug); got != tt.want {
			t.Errorf("logLevel(%q, %t) = %v, want %v", tt.name, tt.debug, got, tt.want)
		}
	}
}

func TestSplitResolver(t *testing.T) {
	tests := []struct {
		in          string
		wantBackend string
		wantSet     string
	}{
		{"redis:pool", backendRedis, "pool"},
		{"postgres:pool", backendPostgres, "pool"},
		{"pool", "", "pool"},
		{"dns:pool", "", "dns:pool"},
	}
	for _, tt := range tests {
		backend, set := splitResolver(tt.in)
		if backend != tt.wantBackend || set != tt.wantSet {
			t.Errorf("splitResolver(%q) = (%q, %q), want (%q, %q)", tt.in, backend, set, tt.wantBackend, tt.wantSet)
		}
	}
}

func TestResolverNames(t *testing.T) {
	targets := []config.Configuration{
		{Target: "a", Routing: config.Routing{Peers: config.PeerSource{Resolver: "redis:pool"}}},
		{Target: "b", Routing: config.Routing{Peers: config.PeerSource{Static: []string{"p1"}}}},
		{Target: "c", Routing: config.Routing{Peers: config.PeerSource{Resolver: "postgres:pool"}}},
		{Target: "d", Routing: config.Routing{Peers: config.PeerSource{Resolver: "redis:pool"}}},
	}
	want := []string{"redis:pool", "postgres:pool"}
	if diff := cmp.Diff(want, resolverNames(targets)); diff != "" {
		t.Errorf("resolverNames() mismatch (-want +got):\n%s", diff)
	}
}

func TestRuntimeResolverWithoutBackend(t *testing.T) {
	rt := &runtime{cfg: &config.AppConfig{}}
	if _, err := rt.resolver("redis:pool"); err == nil {
		t.Error("expected error for resolver without backend")
	}
	if _, err := rt.resolver("pool"); err == nil {
		t.Error("expected error for resolver without backend")
	}
}

func TestRuntimePeerSet(t *testing.T) {
	both := &runtime{cfg: &config.AppConfig{}, redis: &redisclient.Client{}, db: &postgres.DB{}}
	dbOnly := &runtime{cfg: &config.AppConfig{}, db: &postgres.DB{}}

	tests := []struct {
		name string
		rt   *runtime
		ref  string
		want peerSet
	}{
		{"unprefixed prefers redis", both, "pool", redisPeerSet{client: both.redis, name: "pool"}},
		{"explicit postgres", both, "postgres:pool", postgresPeerSet{db: both.db, name: "pool"}},
		{"falls back to postgres", dbOnly, "pool", postgresPeerSet{db: dbOnly.db, name: "pool"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rt.peerSet(tt.ref)
			if err != nil {
				t.Fatalf("peerSet(%q) failed: %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("peerSet(%q) = %#v, want %#v", tt.ref, got, tt.want)
			}
		})
	}

	if _, err := dbOnly.peerSet("redis:pool"); err == nil {
		t.Error("expected error for redis set without redis")
	}
}

func TestParseFields(t *testing.T) {
	got, err := parseFields([]string{"strategy=hash", "peers=a:1,b:2", " sticky = true", "strategy=round_robin"})
	if err != nil {
		t.Fatalf("parseFields failed: %v", err)
	}
	want := map[string]string{"strategy": "round_robin", "peers": "a:1,b:2", "sticky": "true"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseFields() mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"strategy", "=hash"} {
		if _, err := parseFields([]string{bad}); err == nil {
			t.Errorf("parseFields(%q) expected error", bad)
		}
	}
}

func TestPrintLines(t *testing.T) {
	var buf bytes.Buffer
	printLines(&buf, []string{"a:1", "b:2"})
	if got := buf.String(); got != "a:1\nb:2\n" {
		t.Errorf("printLines() = %q", got)
	}
}

func TestNewRuntimeStaticOnly(t *testing.T) {
	cfg := &config.AppConfig{
		Targets: []config.Configuration{
			{Target: "a", Routing: config.Routing{Strategy: config.StrategyRandom, Peers: config.PeerSource{Static: []string{"p1"}}}},
		},
	}
	rt, err := newRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newRuntime failed: %v", err)
	}
	defer rt.Close()

	peer, err := rt.engine.SelectPeer(context.Background(), "", cfg.Targets[0], "")
	if err != nil {
		t.Fatalf("SelectPeer failed: %v", err)
	}
	if peer != "p1" {
		t.Errorf("peer = %q, want p1", peer)
	}
}

func TestNewRuntimeUnknownResolver(t *testing.T) {
	cfg := &config.AppConfig{
		Targets: []config.Configuration{
			{Target: "a", Routing: config.Routing{Peers: config.PeerSource{Resolver: "pool"}}},
		},
	}
	if _, err := newRuntime(context.Background(), cfg); err == nil {
		t.Fatal("expected error for resolver without backend")
	}
}

func TestPrintTargets(t *testing.T) {
	targets := []config.Configuration{
		{
			Target:      "billing",
			Timeout:     2 * time.Second,
			RetryBudget: 2,
			Routing: config.Routing{
				Strategy: config.StrategyRoundRobin,
				Peers:    config.PeerSource{Static: []string{"a:1", "b:2"}},
			},
			Operations: []config.OperationSpec{{Name: "charge", Arity: 2}},
		},
		{
			Target:  "search",
			Routing: config.Routing{Strategy: config.StrategyHash, Sticky: true, Peers: config.PeerSource{Resolver: "pool"}},
		},
		{Target: "live", Dynamic: true, Routing: config.Routing{Strategy: config.StrategyRandom}},
	}

	var buf bytes.Buffer
	printTargets(&buf, targets)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}

	checks := []struct {
		line   int
		fields []string
	}{
		{0, []string{"TARGET", "STRATEGY", "STICKY", "TIMEOUT", "RETRY", "PEERS", "OPERATIONS"}},
		{1, []string{"billing", "round_robin", "false", "2s", "2", "a:1,b:2", "1"}},
		{2, []string{"search", "hash", "true", "infinite", "0", "resolver:pool", "0"}},
		{3, []string{"live", "random", "false", "infinite", "0", "dynamic", "0"}},
	}
	for _, c := range checks {
		if diff := cmp.Diff(c.fields, strings.Fields(lines[c.line])); diff != "" {
			t.Errorf("line %d mismatch (-want +got):\n%s", c.line, diff)
		}
	}
}

func TestEchoHandler(t *testing.T) {
	h := echoHandler("node-a")
	got, err := h(context.Background(), "billing", "charge", []any{"acct-1"})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	want := map[string]any{
		"peer":      "node-a",
		"target":    "billing",
		"operation": "charge",
		"args":      []any{"acct-1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("echo mismatch (-want +got):\n%s", diff)
	}
}

func TestEchoHandlerSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := echoHandler("node-a")(ctx, "billing", "sleep", []any{float64(10000)}); err == nil {
		t.Fatal("expected error for cancelled sleep")
	}
}
