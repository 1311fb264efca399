package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for beacon delivery.
type Metrics struct {
	Sent          *prometheus.CounterVec
	Failed        *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	BuildFailures *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	CircuitOpen   prometheus.Gauge
}

// NewMetrics registers beacon metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enforce_beacons_sent_total",
			Help: "Beacons delivered, by type",
		}, []string{"type"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enforce_beacons_failed_total",
			Help: "Beacons whose delivery failed, by type",
		}, []string{"type"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enforce_beacons_dropped_total",
			Help: "Beacons dropped before delivery, by reason",
		}, []string{"reason"}),
		BuildFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enforce_beacon_build_failures_total",
			Help: "Beacons that could not be built, by type",
		}, []string{"type"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "enforce_beacon_queue_depth",
			Help: "Beacons waiting for a worker",
		}),
		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "enforce_beacon_circuit_open",
			Help: "1 while the reporting circuit breaker is open",
		}),
	}
}

func (m *Metrics) incSent(t BeaconType) {
	if m == nil {
		return
	}
	m.Sent.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) incFailed(t BeaconType) {
	if m == nil {
		return
	}
	m.Failed.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// IncBuildFailure counts a beacon that never reached the queue.
func (m *Metrics) IncBuildFailure(t BeaconType) {
	if m == nil {
		return
	}
	m.BuildFailures.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) setCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
	} else {
		m.CircuitOpen.Set(0)
	}
}
