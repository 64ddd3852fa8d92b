// Package config holds the validated description of a remote target: where
// calls go, how long they may take, how often they are retried and how their
// failures are reported.
package config

import (
	"slices"
	"time"
)

// Defaults applied when a field is absent from the raw options.
const (
	DefaultTimeout  = 5000 * time.Millisecond
	DefaultStrategy = StrategyRandom
)

// NoTimeout marks a configuration whose calls may block indefinitely.
const NoTimeout time.Duration = 0

// Strategy names a peer selection policy.
type Strategy string

const (
	StrategyRandom     Strategy = "random"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyHash       Strategy = "hash"
	// StrategySticky is accepted as shorthand for random selection with
	// sticky pinning enabled.
	StrategySticky Strategy = "sticky"
)

// RetryPeer decides which peer a retry is sent to.
type RetryPeer string

const (
	// RetryReselect runs peer selection again before every attempt.
	RetryReselect RetryPeer = "reselect"
	// RetrySame sends every retry of a call to the peer of its first attempt.
	RetrySame RetryPeer = "same"
)

// PeerSource is either a static ordered set of peers or the name of a
// resolver consulted at call time.
type PeerSource struct {
	Static   []string `yaml:"peers,omitempty"`
	Resolver string   `yaml:"resolver,omitempty"`
}

// IsResolver reports whether peers are resolved at call time.
func (s PeerSource) IsResolver() bool { return s.Resolver != "" }

// IsZero reports whether no peer source is configured.
func (s PeerSource) IsZero() bool { return len(s.Static) == 0 && s.Resolver == "" }

func (s PeerSource) clone() PeerSource {
	return PeerSource{Static: slices.Clone(s.Static), Resolver: s.Resolver}
}

// Routing is the subset of a configuration that decides which peer a call
// goes to. It may be replaced at call time by a dynamic routing store.
type Routing struct {
	Strategy Strategy
	Sticky   bool
	Peers    PeerSource
}

// Overrides replace individual fields of a configuration for one operation.
// A nil field inherits the value of the parent configuration.
type Overrides struct {
	Retry         *int
	Timeout       *time.Duration // *Timeout == NoTimeout means infinite
	ErrorHandling *bool
}

// IsZero reports whether no override is set.
func (o Overrides) IsZero() bool {
	return o.Retry == nil && o.Timeout == nil && o.ErrorHandling == nil
}

// OperationSpec customises one remote operation, keyed by name and arity.
type OperationSpec struct {
	Name      string
	Arity     int
	NewName   string // local alias, empty when the remote name is used
	Private   bool
	Overrides Overrides
}

// LocalName is the name callers use for the operation.
func (o OperationSpec) LocalName() string {
	if o.NewName != "" {
		return o.NewName
	}
	return o.Name
}

// Configuration describes a remote target. Values returned by Validate are
// read-only and safe to share between goroutines; derived variants are
// produced with DeriveForOperation and WithRouting.
type Configuration struct {
	Target        string
	Timeout       time.Duration
	RetryBudget   int
	ErrorHandling bool
	RetryPeer     RetryPeer
	SelectorID    string
	Dynamic       bool
	Routing       Routing
	Operations    []OperationSpec
}

// HasTimeout reports whether calls are bounded in time.
func (c Configuration) HasTimeout() bool { return c.Timeout > 0 }

// Wrapped reports whether outcomes are converted to typed results.
func (c Configuration) Wrapped() bool { return c.ErrorHandling || c.RetryBudget > 0 }

// Selector returns the identifier under which per-context selection state
// for this configuration is kept.
func (c Configuration) Selector() string {
	if c.SelectorID != "" {
		return c.SelectorID
	}
	return c.Target
}

// Operation finds the operation whose remote or local name matches name and
// whose arity matches.
func (c Configuration) Operation(name string, arity int) (OperationSpec, bool) {
	for _, op := range c.Operations {
		if op.Arity != arity {
			continue
		}
		if op.Name == name || (op.NewName != "" && op.NewName == name) {
			return op, true
		}
	}
	return OperationSpec{}, false
}

// ForOperation returns the configuration specialised for the named
// operation together with the remote operation name to invoke.
func (c Configuration) ForOperation(name string, arity int) (Configuration, string) {
	op, ok := c.Operation(name, arity)
	if !ok {
		return c, name
	}
	return DeriveForOperation(c, op.Overrides), op.Name
}

// DeriveForOperation returns a copy of c with the non-nil overrides applied.
// The retry/error handling invariant is re-established on the result.
func DeriveForOperation(c Configuration, ov Overrides) Configuration {
	out := c.clone()
	if ov.Retry != nil {
		out.RetryBudget = *ov.Retry
	}
	if ov.Timeout != nil {
		out.Timeout = *ov.Timeout
	}
	if ov.ErrorHandling != nil {
		out.ErrorHandling = *ov.ErrorHandling
	}
	if out.RetryBudget > 0 {
		out.ErrorHandling = true
	}
	return out
}

// WithRouting returns a copy of c routed by r.
func (c Configuration) WithRouting(r Routing) Configuration {
	out := c.clone()
	out.Routing = Routing{Strategy: r.Strategy, Sticky: r.Sticky, Peers: r.Peers.clone()}
	return out
}

func (c Configuration) clone() Configuration {
	out := c
	out.Routing.Peers = c.Routing.Peers.clone()
	if c.Operations != nil {
		out.Operations = slices.Clone(c.Operations)
	}
	return out
}
