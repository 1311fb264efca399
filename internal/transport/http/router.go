package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"enforce/internal/enforce"
	"enforce/internal/environment"
	"enforce/internal/platform/metrics"
)

// Coordinator is the part of enforce.Coordinator the HTTP layer drives.
type Coordinator interface {
	InstanceID() string
	Config() (enforce.Config, bool)
	Document() *environment.Document
	CheckConsent(ctx context.Context, category string) bool
	GetConsent(ctx context.Context) map[string]bool
	GetConsentFor(ctx context.Context, categories ...string) map[string]bool
	SetConsentWithExtras(ctx context.Context, flags, extras map[string]bool)
	SetEnvironment(ctx context.Context, env string) error
	ShowBanner(ctx context.Context)
	ShowModal(ctx context.Context)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler is the thin HTTP layer over the coordinator. It holds no consent
// state of its own.
type Handler struct {
	coord   Coordinator
	logger  *slog.Logger
	metrics *metrics.Metrics
	checks  map[string]HealthCheck
	timeout time.Duration
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithHealthCheck adds a named probe to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// WithRequestTimeout bounds every API request.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewHandler(coord Coordinator, opts ...Option) *Handler {
	h := &Handler{
		coord:   coord,
		logger:  slog.Default(),
		checks:  map[string]HealthCheck{},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wires the consent API, health and metrics endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestMetadata)
	r.Use(recovery(h.logger))

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/v1", func(api chi.Router) {
		api.Use(accessLog(h.logger))
		api.Use(latency(h.metrics))
		api.Use(chimw.Timeout(h.timeout))

		api.Get("/status", h.handleStatus)
		api.Get("/consent", h.handleGetConsent)
		api.Put("/consent", h.handleSetConsent)
		api.Post("/consent/query", h.handleQueryConsent)
		api.Get("/consent/{category}", h.handleCheckConsent)
		api.Put("/environment", h.handleSetEnvironment)
		api.Post("/banner", h.handleShow(enforce.SurfaceBanner))
		api.Post("/modal", h.handleShow(enforce.SurfaceModal))
	})
	return r
}
