// Package observability holds the Prometheus metrics of the dashboard API.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "turismo"

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	DrilldownRequests *prometheus.CounterVec
	BackendRequests   *prometheus.CounterVec
	BackendDuration   *prometheus.HistogramVec
	UnmatchedKeys     *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DrilldownRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "drilldown_requests_total",
			Help:      "Drilldown requests by scope type and outcome",
		}, []string{"scope_type", "outcome"}),
		BackendRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "backend_requests_total",
			Help:      "Analytics backend round-trips by operation and outcome",
		}, []string{"op", "outcome"}),
		BackendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Analytics backend round-trip latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		UnmatchedKeys: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "unmatched_keys_total",
			Help:      "Level-1 keys that matched no taxonomy entry",
		}, []string{"scope_type"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "cache_lookups_total",
			Help:      "Drilldown cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveDrilldown(scopeType string, err error) {
	if m == nil {
		return
	}
	m.DrilldownRequests.WithLabelValues(scopeType, outcome(err)).Inc()
}

func (m *Metrics) ObserveBackend(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(op, outcome(err)).Inc()
	m.BackendDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddUnmatched(scopeType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.UnmatchedKeys.WithLabelValues(scopeType).Add(float64(n))
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
