package job

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts persisted transitions and lost races.
type Metrics struct {
	transitions *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	drift       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigflow",
			Subsystem: "job",
			Name:      "transitions_total",
			Help:      "Persisted job status transitions segmented by edge.",
		}, []string{"from", "to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigflow",
			Subsystem: "job",
			Name:      "conflicts_total",
			Help:      "Conditional updates that lost a race, segmented by operation and result.",
		}, []string{"op", "result"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigflow",
			Subsystem: "job",
			Name:      "reconcile_drift_total",
			Help:      "On-chain states that matched no legal transition during reconciliation.",
		}, []string{"status", "chain_state"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.conflicts, m.drift)
	}
	return m
}

func (m *Metrics) transition(from, to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) conflict(op, result string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op, result).Inc()
}

func (m *Metrics) driftObserved(status Status, chain string) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(string(status), chain).Inc()
}
