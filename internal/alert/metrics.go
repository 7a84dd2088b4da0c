package alert

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricBroadcasts    = "alert_broadcasts_total"
	MetricSubscriptions = "alert_active_subscriptions"
)

// Metrics contains Prometheus metrics for the alert channel.
// All operations are thread-safe.
type Metrics struct {
	broadcasts    prometheus.Counter
	subscriptions prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBroadcasts,
			Help: "Total number of SOS events broadcast",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSubscriptions,
			Help: "Number of currently open alert subscriptions",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.broadcasts, m.subscriptions} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncBroadcasts increments the broadcast counter.
func (m *Metrics) IncBroadcasts() {
	m.broadcasts.Inc()
}

// IncSubscriptions increments the open-subscription gauge.
func (m *Metrics) IncSubscriptions() {
	m.subscriptions.Inc()
}

// DecSubscriptions decrements the open-subscription gauge.
func (m *Metrics) DecSubscriptions() {
	m.subscriptions.Dec()
}
