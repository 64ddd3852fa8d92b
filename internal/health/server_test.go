package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vietddude/peercall/internal/core/config"
	"github.com/vietddude/peercall/internal/core/rpcerr"
	"github.com/vietddude/peercall/internal/infra/rpc/routing"
)

// MockResolver resolves static peers and fails for resolver references
// listed in failing.
type MockResolver struct {
	failing map[string]bool
}

func (m *MockResolver) ResolvePeers(_ context.Context, src config.PeerSource) ([]string, error) {
	if src.IsResolver() {
		if m.failing[src.Resolver] {
			return nil, rpcerr.New(rpcerr.KindPeer, "resolver returned no peers", nil)
		}
		return []string{src.Resolver + "-1"}, nil
	}
	return src.Static, nil
}

// MockPicker records the selection context of each request.
type MockPicker struct {
	contexts []string
	err      error
}

func (m *MockPicker) SelectPeer(ctx context.Context, _ string, cfg config.Configuration, hashKey string) (string, error) {
	m.contexts = append(m.contexts, routing.SelectionID(ctx))
	if m.err != nil {
		return "", m.err
	}
	return cfg.Target + "/" + hashKey, nil
}

func target(name string, src config.PeerSource) config.Configuration {
	return config.Configuration{
		Target:  name,
		Routing: config.Routing{Strategy: config.StrategyRandom, Peers: src},
	}
}

func TestCheckHealth(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		targets    []config.Configuration
		failing    map[string]bool
		wantStatus SystemStatus
		want       map[string]SystemStatus
	}{
		{
			name: "all healthy",
			targets: []config.Configuration{
				target("a", config.PeerSource{Static: []string{"p1"}}),
				target("b", config.PeerSource{Resolver: "pool"}),
			},
			wantStatus: StatusHealthy,
			want:       map[string]SystemStatus{"a": StatusHealthy, "b": StatusHealthy},
		},
		{
			name: "one resolver empty",
			targets: []config.Configuration{
				target("a", config.PeerSource{Static: []string{"p1"}}),
				target("b", config.PeerSource{Resolver: "pool"}),
			},
			failing:    map[string]bool{"pool": true},
			wantStatus: StatusDegraded,
			want:       map[string]SystemStatus{"a": StatusHealthy, "b": StatusCritical},
		},
		{
			name: "all failing",
			targets: []config.Configuration{
				target("b", config.PeerSource{Resolver: "pool"}),
				target("d", config.PeerSource{}),
			},
			failing:    map[string]bool{"pool": true},
			wantStatus: StatusCritical,
			want:       map[string]SystemStatus{"b": StatusCritical, "d": StatusDynamic},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(&MockResolver{failing: tt.failing}, tt.targets)
			m.now = func() time.Time { return fixed }

			report := m.CheckHealth(context.Background())
			if report.SystemStatus != tt.wantStatus {
				t.Errorf("SystemStatus = %s, want %s", report.SystemStatus, tt.wantStatus)
			}
			if !report.CheckedAt.Equal(fixed) {
				t.Errorf("CheckedAt = %v, want %v", report.CheckedAt, fixed)
			}

			got := make(map[string]SystemStatus, len(report.Targets))
			for name, th := range report.Targets {
				got[name] = th.Status
				if th.Status == StatusCritical && th.Kind != rpcerr.KindPeer {
					t.Errorf("target %s kind = %q, want peer", name, th.Kind)
				}
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("target statuses mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func newTestServer(failing map[string]bool, picker *MockPicker) *Server {
	targets := []config.Configuration{
		target("billing", config.PeerSource{Static: []string{"p1", "p2"}}),
		target("search", config.PeerSource{Resolver: "pool"}),
	}
	return NewServer(NewMonitor(&MockResolver{failing: failing}, targets), picker, targets, 0)
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name     string
		failing  map[string]bool
		wantCode int
		want     string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"degraded", map[string]bool{"pool": true}, http.StatusOK, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(tt.failing, &MockPicker{})
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.want {
				t.Errorf("status = %q, want %q", body["status"], tt.want)
			}
		})
	}
}

func TestHandleHealthCritical(t *testing.T) {
	targets := []config.Configuration{target("search", config.PeerSource{Resolver: "pool"})}
	s := NewServer(NewMonitor(&MockResolver{failing: map[string]bool{"pool": true}}, targets), &MockPicker{}, targets, 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleDetailedDependencies(t *testing.T) {
	targets := []config.Configuration{target("billing", config.PeerSource{Static: []string{"p1"}})}
	m := NewMonitor(&MockResolver{}, targets)
	m.AddDependency("redis", func(context.Context) error { return nil })
	m.AddDependency("postgres", func(context.Context) error { return errors.New("connection refused") })
	s := NewServer(m, &MockPicker{}, targets, 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}

	var report HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.SystemStatus != StatusDegraded {
		t.Errorf("SystemStatus = %s, want %s", report.SystemStatus, StatusDegraded)
	}
	want := map[string]Dependency{
		"redis":    {Status: StatusHealthy},
		"postgres": {Status: StatusCritical, Error: "connection refused"},
	}
	if diff := cmp.Diff(want, report.Dependencies); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleSelect(t *testing.T) {
	picker := &MockPicker{}
	s := newTestServer(nil, picker)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/select?target=billing&key=k1&context=session-7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}

	var got SelectResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := SelectResponse{Target: "billing", Context: "session-7", Peer: "billing/k1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/select?target=billing", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if diff := cmp.Diff([]string{"session-7", routing.DefaultContext}, picker.contexts); diff != "" {
		t.Errorf("selection contexts mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleSelectErrors(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		pickErr  error
		wantCode int
	}{
		{"unknown target", "/select?target=nope", nil, http.StatusNotFound},
		{"selection failed", "/select?target=search", errors.New("no peers"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(nil, &MockPicker{err: tt.pickErr})
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(nil, &MockPicker{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
}
