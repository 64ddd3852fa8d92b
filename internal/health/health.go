// Package health provides the diagnostics HTTP server: peer set health per
// target, peer selection previews and Prometheus metrics.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/peercall/internal/core/config"
	"github.com/vietddude/peercall/internal/core/rpcerr"
)

// SystemStatus represents the health state of the system or a target.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
	// StatusDynamic marks targets whose peers are only known from the
	// dynamic routing store.
	StatusDynamic SystemStatus = "dynamic"
)

// TargetHealth describes the resolvable peer set of one target.
type TargetHealth struct {
	Target   string       `json:"target"`
	Status   SystemStatus `json:"status"`
	Resolver string       `json:"resolver,omitempty"`
	Peers    []string     `json:"peers,omitempty"`
	Error    string       `json:"error,omitempty"`
	Kind     rpcerr.Kind  `json:"kind,omitempty"`
}

// HealthReport contains the full health report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	CheckedAt    time.Time               `json:"checked_at"`
	Targets      map[string]TargetHealth `json:"targets"`
	Dependencies map[string]Dependency   `json:"dependencies,omitempty"`
}

// Dependency is the state of a backing store the peer sets live in.
type Dependency struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

type dependencyCheck struct {
	name  string
	check CheckFunc
}

// PeerResolver resolves the peer source of a target.
type PeerResolver interface {
	ResolvePeers(ctx context.Context, src config.PeerSource) ([]string, error)
}

// Monitor checks that every configured target has peers to call.
type Monitor struct {
	resolver PeerResolver
	targets  []config.Configuration
	deps     []dependencyCheck
	now      func() time.Time
}

// NewMonitor creates a monitor for targets.
func NewMonitor(resolver PeerResolver, targets []config.Configuration) *Monitor {
	return &Monitor{resolver: resolver, targets: targets, now: time.Now}
}

// AddDependency registers a backing store checked with every report. A
// failing dependency degrades an otherwise healthy system.
func (m *Monitor) AddDependency(name string, check CheckFunc) {
	m.deps = append(m.deps, dependencyCheck{name: name, check: check})
}

// CheckHealth resolves the peers of every target and checks the registered
// dependencies.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		SystemStatus: StatusHealthy,
		CheckedAt:    m.now(),
		Targets:      make(map[string]TargetHealth, len(m.targets)),
	}

	critical := 0
	checked := 0
	for _, cfg := range m.targets {
		th := TargetHealth{
			Target:   cfg.Target,
			Status:   StatusHealthy,
			Resolver: cfg.Routing.Peers.Resolver,
		}

		if cfg.Routing.Peers.IsZero() {
			th.Status = StatusDynamic
			report.Targets[cfg.Target] = th
			continue
		}

		checked++
		peers, err := m.resolver.ResolvePeers(ctx, cfg.Routing.Peers)
		if err != nil {
			critical++
			th.Status = StatusCritical
			th.Error = err.Error()
			var rerr *rpcerr.Error
			if errors.As(err, &rerr) {
				th.Kind = rerr.Kind
			}
		} else {
			th.Peers = peers
		}
		report.Targets[cfg.Target] = th
	}

	failedDeps := 0
	if len(m.deps) > 0 {
		report.Dependencies = make(map[string]Dependency, len(m.deps))
	}
	for _, d := range m.deps {
		dep := Dependency{Status: StatusHealthy}
		if err := d.check(ctx); err != nil {
			failedDeps++
			dep.Status = StatusCritical
			dep.Error = err.Error()
		}
		report.Dependencies[d.name] = dep
	}

	// Aggregate status
	switch {
	case critical > 0 && critical == checked:
		report.SystemStatus = StatusCritical
	case critical > 0 || failedDeps > 0:
		report.SystemStatus = StatusDegraded
	}
	return report
}
