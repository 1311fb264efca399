package consent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for consent persistence.
type Metrics struct {
	Saves           prometheus.Counter
	Purges          *prometheus.CounterVec
	BackendFailures *prometheus.CounterVec
}

// NewMetrics registers consent store metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Saves: factory.NewCounter(prometheus.CounterOpts{
			Name: "enforce_consent_saves_total",
			Help: "Total number of consent records written",
		}),
		Purges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enforce_consent_purges_total",
			Help: "Total number of stored consent records purged, by reason",
		}, []string{"reason"}),
		BackendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enforce_consent_backend_failures_total",
			Help: "Total number of swallowed consent backend failures, by operation",
		}, []string{"operation"}),
	}
}

func (m *Metrics) incSaves() {
	if m == nil {
		return
	}
	m.Saves.Inc()
}

func (m *Metrics) incPurges(reason string) {
	if m == nil {
		return
	}
	m.Purges.WithLabelValues(reason).Inc()
}

func (m *Metrics) incBackendFailure(operation string) {
	if m == nil {
		return
	}
	m.BackendFailures.WithLabelValues(operation).Inc()
}
