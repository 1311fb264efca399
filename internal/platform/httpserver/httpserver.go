package httpserver

import (
	"net/http"
	"time"

	"enforce/internal/platform/config"
)

const readHeaderTimeout = 5 * time.Second

// New builds the API server from cfg. Zero timeouts fall back to the
// config defaults.
func New(cfg config.Server, handler http.Handler) *http.Server {
	defaults := config.Default().Server
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       orDefault(cfg.ReadTimeout, defaults.ReadTimeout),
		WriteTimeout:      orDefault(cfg.WriteTimeout, defaults.WriteTimeout),
		IdleTimeout:       orDefault(cfg.IdleTimeout, defaults.IdleTimeout),
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
