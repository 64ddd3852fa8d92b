package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PeerSelections tracks peer selections per selector and strategy
	PeerSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peercall_peer_selections_total",
			Help: "Total number of peer selections",
		},
		[]string{"selector", "strategy", "pinned"},
	)

	// RPCAttemptsTotal tracks call attempts per target, operation and peer
	RPCAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peercall_rpc_attempts_total",
			Help: "Total number of remote call attempts",
		},
		[]string{"target", "operation", "peer"},
	)

	// RPCErrorsTotal tracks classified attempt failures
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peercall_rpc_errors_total",
			Help: "Total number of failed remote call attempts by error kind",
		},
		[]string{"target", "peer", "kind"},
	)

	// RPCOutcomesTotal tracks the final outcome of top-level calls
	RPCOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peercall_rpc_outcomes_total",
			Help: "Total number of completed calls by outcome",
		},
		[]string{"target", "operation", "outcome"},
	)

	// RPCLatency tracks per-attempt call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peercall_rpc_latency_seconds",
			Help:    "Remote call attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target", "operation"},
	)

	// ResolverFailures tracks peer resolution failures
	ResolverFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peercall_resolver_failures_total",
			Help: "Total number of failed peer resolutions",
		},
		[]string{"resolver"},
	)

	// DBConnectionPoolUsage tracks peer store connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peercall_db_connection_pool_usage_percent",
			Help: "Peer store connection pool usage percentage",
		},
	)
)
