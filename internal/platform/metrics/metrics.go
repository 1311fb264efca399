package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-level Prometheus metrics and the registry every
// component registers into.
type Metrics struct {
	Registry *prometheus.Registry

	ConfigureCalls    prometheus.Counter
	ConsentUpdates    prometheus.Counter
	PresentedSurfaces *prometheus.CounterVec
	ErrorReports      *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// New creates a fresh registry with Go and process collectors and the
// coordinator metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ConfigureCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "enforce_configure_total",
			Help: "Total number of accepted configure calls",
		}),
		ConsentUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "enforce_consent_updates_total",
			Help: "Total number of consent updates applied",
		}),
		PresentedSurfaces: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enforce_surfaces_presented_total",
			Help: "Banner and modal surfaces requested from the presenter",
		}, []string{"kind"}),
		ErrorReports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enforce_error_reports_total",
			Help: "Error beacons issued, by delivery outcome",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enforce_http_request_duration_seconds",
			Help:    "Latency of HTTP API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncConfigure() {
	if m == nil {
		return
	}
	m.ConfigureCalls.Inc()
}

func (m *Metrics) IncConsentUpdate() {
	if m == nil {
		return
	}
	m.ConsentUpdates.Inc()
}

func (m *Metrics) IncPresented(kind string) {
	if m == nil {
		return
	}
	m.PresentedSurfaces.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncErrorReport(delivered bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	m.ErrorReports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
