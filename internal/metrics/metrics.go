// Package metrics defines the Prometheus collectors for tree traffic and
// liveness. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CommandsSent         *prometheus.CounterVec
	RepliesReceived      *prometheus.CounterVec
	LivenessChecks       *prometheus.CounterVec
	HeartbeatPasses      prometheus.Counter
	HeartbeatUnreachable prometheus.Gauge
	TopologySize         prometheus.Gauge
	Relayed              *prometheus.CounterVec
	RelayFailures        prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "commands_sent_total",
			Help:      "Commands sent down the tree by the orchestrator, by kind.",
		}, []string{"kind"}),
		RepliesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "replies_received_total",
			Help:      "Replies observed by the orchestrator listener, by kind.",
		}, []string{"kind"}),
		LivenessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "liveness_checks_total",
			Help:      "Liveness checks performed, by result (alive|dead).",
		}, []string{"result"}),
		HeartbeatPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "heartbeat_passes_total",
			Help:      "Completed heartbeat sweeps.",
		}),
		HeartbeatUnreachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbor",
			Name:      "heartbeat_unreachable_nodes",
			Help:      "Nodes found unreachable by the last heartbeat sweep.",
		}),
		TopologySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbor",
			Name:      "topology_nodes",
			Help:      "Workers currently in the orchestrator topology.",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "worker_relayed_total",
			Help:      "Commands relayed by in-process workers, by direction (up|down).",
		}, []string{"direction"}),
		RelayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "worker_relay_failures_total",
			Help:      "Child replies replaced by a synthesized ERROR reply.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CommandsSent, m.RepliesReceived, m.LivenessChecks,
			m.HeartbeatPasses, m.HeartbeatUnreachable, m.TopologySize,
			m.Relayed, m.RelayFailures,
		)
	}
	return m
}

func (m *Metrics) CommandSent(kind string) {
	if m != nil {
		m.CommandsSent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ReplyReceived(kind string) {
	if m != nil {
		m.RepliesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Liveness(alive bool) {
	if m == nil {
		return
	}
	result := "dead"
	if alive {
		result = "alive"
	}
	m.LivenessChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) Sweep(unreachable int) {
	if m != nil {
		m.HeartbeatPasses.Inc()
		m.HeartbeatUnreachable.Set(float64(unreachable))
	}
}

func (m *Metrics) Topology(n int) {
	if m != nil {
		m.TopologySize.Set(float64(n))
	}
}

func (m *Metrics) Relay(direction string) {
	if m != nil {
		m.Relayed.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) RelayFailed() {
	if m != nil {
		m.RelayFailures.Inc()
	}
}
