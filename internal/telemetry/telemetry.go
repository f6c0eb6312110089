// Package telemetry wires up this service's two ambient concerns:
// structured logging and Prometheus metrics. Neither is part of the
// causal protocol itself; both are carried regardless, the way a
// production Go service always carries them.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NewLogger returns a production zap logger, or a development (console)
// logger when development is requested; a no-op logger is returned only if
// building the requested one fails — the same default/override shape as
// the teacher pack's WithLogger functional option.
func NewLogger(development bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Metrics groups every Prometheus collector this service exports.
// Registered once at process startup and threaded into every component
// that needs to observe an outcome.
type Metrics struct {
	Registry *prometheus.Registry

	GateWaitSeconds          prometheus.Histogram
	GossipRoundsTotal        *prometheus.CounterVec
	ReplicationFailuresTotal prometheus.Counter
	ViewInstallsTotal        prometheus.Counter
	ProtocolViolationsTotal  prometheus.Counter
	ProxyForwardsTotal       *prometheus.CounterVec
}

// NewMetrics builds and registers the collector set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		GateWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "causalkv_gate_wait_seconds",
			Help:    "Time a read spent blocked on the causal gate before being served.",
			Buckets: prometheus.DefBuckets,
		}),
		GossipRoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "causalkv_gossip_rounds_total",
			Help: "Gossip rounds by outcome (merged, skipped_self, timeout).",
		}, []string{"outcome"}),
		ReplicationFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "causalkv_replication_failures_total",
			Help: "Broadcast-on-write deliveries that exhausted their retry budget.",
		}),
		ViewInstallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "causalkv_view_installs_total",
			Help: "Successful PUT /view installs processed by this node.",
		}),
		ProtocolViolationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "causalkv_protocol_violations_total",
			Help: "Equal vector clocks observed with differing values on /update.",
		}),
		ProxyForwardsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "causalkv_proxy_forwards_total",
			Help: "Cross-shard forwards by outcome (success, retry, timeout).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.GateWaitSeconds,
		m.GossipRoundsTotal,
		m.ReplicationFailuresTotal,
		m.ViewInstallsTotal,
		m.ProtocolViolationsTotal,
		m.ProxyForwardsTotal,
	)
	return m
}

// ObserveGateWait records how long a read waited at the causal gate.
func (m *Metrics) ObserveGateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.GateWaitSeconds.Observe(d.Seconds())
}
