package location

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricUpserts      = "location_upserts_total"
	MetricStaleDropped = "location_stale_writes_dropped_total"
)

// Metrics contains Prometheus metrics for position writes.
// All operations are thread-safe.
type Metrics struct {
	upserts      prometheus.Counter
	staleDropped prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		upserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUpserts,
			Help: "Total number of applied position upserts",
		}),
		staleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStaleDropped,
			Help: "Total number of position writes dropped for carrying a stale sequence",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.upserts, m.staleDropped} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncUpserts increments the applied-upsert counter.
func (m *Metrics) IncUpserts() {
	m.upserts.Inc()
}

// IncStaleDropped increments the dropped-stale-write counter.
func (m *Metrics) IncStaleDropped() {
	m.staleDropped.Inc()
}
