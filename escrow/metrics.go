package escrow

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway call instruments.
type Metrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewMetrics creates and registers the gateway instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gigflow",
			Subsystem: "escrow",
			Name:      "calls_total",
			Help:      "Escrow gateway calls segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gigflow",
			Subsystem: "escrow",
			Name:      "call_duration_seconds",
			Help:      "Latency distribution for escrow gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.latency)
	}
	return m
}

func (m *Metrics) observe(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(op, Outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Outcome labels err as "ok", "transient" or "fatal".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTransient(err):
		return "transient"
	default:
		return "fatal"
	}
}

// InstrumentedGateway records call counts and latency for the wrapped gateway.
type InstrumentedGateway struct {
	next    Gateway
	metrics *Metrics
}

func NewInstrumentedGateway(next Gateway, metrics *Metrics) *InstrumentedGateway {
	return &InstrumentedGateway{next: next, metrics: metrics}
}

func (g *InstrumentedGateway) CreateAndFund(ctx context.Context, req FundingRequest) (AccountRef, error) {
	start := time.Now()
	ref, err := g.next.CreateAndFund(ctx, req)
	g.metrics.observe(OpCreateAndFund, err, time.Since(start))
	return ref, err
}

func (g *InstrumentedGateway) FetchState(ctx context.Context, ref AccountRef) (OnChainState, error) {
	start := time.Now()
	st, err := g.next.FetchState(ctx, ref)
	g.metrics.observe(OpFetchState, err, time.Since(start))
	return st, err
}

func (g *InstrumentedGateway) Release(ctx context.Context, ref AccountRef) error {
	start := time.Now()
	err := g.next.Release(ctx, ref)
	g.metrics.observe(OpRelease, err, time.Since(start))
	return err
}

func (g *InstrumentedGateway) Refund(ctx context.Context, ref AccountRef) error {
	start := time.Now()
	err := g.next.Refund(ctx, ref)
	g.metrics.observe(OpRefund, err, time.Since(start))
	return err
}
