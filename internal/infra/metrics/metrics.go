// Package metrics provides Prometheus metrics for the crawler engine -
// counters, gauges, and histograms for probes, handshakes, cycles, and the
// peer registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Probes ─────────────────────────────────────────────────────────────────

// ProbesTotal counts terminal probe outcomes by chain and classification.
var ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pixwatch",
	Name:      "probes_total",
	Help:      "Terminal probe outcomes by classification.",
}, []string{"chain", "status"})

// ProbeAttempts counts individual handshake attempts, including retries.
var ProbeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pixwatch",
	Name:      "probe_attempts_total",
	Help:      "Handshake attempts dispatched, including retries.",
}, []string{"chain"})

// HandshakeLatency tracks completed-handshake round-trip time in seconds.
var HandshakeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pixwatch",
	Name:      "handshake_latency_seconds",
	Help:      "Round-trip latency of completed handshakes.",
	Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"chain"})

// ─── Registry ───────────────────────────────────────────────────────────────

// PeersByStatus tracks registry size by lifecycle state.
var PeersByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pixwatch",
	Name:      "peers_by_status",
	Help:      "Known peers per lifecycle status.",
}, []string{"chain", "status"})

// PeersByTier tracks registry size by health tier.
var PeersByTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pixwatch",
	Name:      "peers_by_tier",
	Help:      "Known peers per health tier.",
}, []string{"chain", "tier"})

// RegistryWriteFailures counts dropped classifications due to store errors.
var RegistryWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pixwatch",
	Name:      "registry_write_failures_total",
	Help:      "Probe classifications dropped because the registry write failed.",
})

// PeersPruned counts peers evicted by the pruning sweeper.
var PeersPruned = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pixwatch",
	Name:      "peers_pruned_total",
	Help:      "Peers evicted after exceeding the inactivity threshold.",
}, []string{"chain"})

// ─── Cycles ─────────────────────────────────────────────────────────────────

// CycleDuration tracks full sweep duration in seconds.
var CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pixwatch",
	Name:      "cycle_duration_seconds",
	Help:      "Duration of one full scan cycle.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
}, []string{"chain"})

// CyclesTotal counts completed cycles; degraded cycles produced zero
// candidates.
var CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pixwatch",
	Name:      "cycles_total",
	Help:      "Completed scan cycles.",
}, []string{"chain", "degraded"})

// CyclesSkipped counts scan triggers skipped because a cycle was running.
var CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pixwatch",
	Name:      "cycles_skipped_total",
	Help:      "Scan triggers skipped due to an overlapping cycle.",
})
