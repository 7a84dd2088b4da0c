package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSubscriptions = "feed_active_subscriptions"
	MetricSnapshots     = "feed_snapshots_total"
)

// Metrics contains Prometheus metrics for the location feed.
// All operations are thread-safe.
type Metrics struct {
	subscriptions prometheus.Gauge
	snapshots     prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSubscriptions,
			Help: "Number of currently open feed subscriptions",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSnapshots,
			Help: "Total number of snapshot recomputations served to feed subscribers",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.subscriptions, m.snapshots} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSubscriptions increments the open-subscription gauge.
func (m *Metrics) IncSubscriptions() {
	m.subscriptions.Inc()
}

// DecSubscriptions decrements the open-subscription gauge.
func (m *Metrics) DecSubscriptions() {
	m.subscriptions.Dec()
}

// IncSnapshots increments the served-snapshot counter.
func (m *Metrics) IncSnapshots() {
	m.snapshots.Inc()
}
