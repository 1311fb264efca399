package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"enforce/internal/enforce"
	"enforce/internal/environment"
	"enforce/pkg/platform/httputil"
	"enforce/pkg/requestcontext"
)

const maxBodyBytes = 64 << 10

type setConsentRequest struct {
	Consent map[string]bool `json:"consent"`
	Extras  map[string]bool `json:"extras,omitempty"`
}

type queryConsentRequest struct {
	Categories []string `json:"categories"`
}

type setEnvironmentRequest struct {
	Environment string `json:"environment"`
}

type categoryResponse struct {
	Category string `json:"category"`
	Granted  bool   `json:"granted"`
}

type statusResponse struct {
	InstanceID      string `json:"instanceId"`
	Configured      bool   `json:"configured"`
	ClientName      string `json:"clientName,omitempty"`
	PublishPath     string `json:"publishPath,omitempty"`
	Environment     string `json:"environment,omitempty"`
	Debug           bool   `json:"debug"`
	Version         string `json:"version,omitempty"`
	Appearance      string `json:"appearance,omitempty"`
	DocumentVersion string `json:"documentVersion,omitempty"`
	Mode            string `json:"mode,omitempty"`
}

var errNotConfigured = httputil.Conflict("not_configured", "configure has not been called")

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{InstanceID: h.coord.InstanceID()}
	if cfg, ok := h.coord.Config(); ok {
		resp.Configured = true
		resp.ClientName = cfg.ClientName
		resp.PublishPath = cfg.PublishPath
		resp.Environment = cfg.Environment
		resp.Debug = cfg.Debug
		resp.Version = cfg.Version
		resp.Appearance = cfg.Appearance.String()
	}
	if doc := h.coord.Document(); doc != nil {
		resp.DocumentVersion = doc.Version
		resp.Mode = doc.Mode()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConsent(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.coord.GetConsent(r.Context()))
}

func (h *Handler) handleCheckConsent(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(chi.URLParam(r, "category"))
	if category == "" {
		httputil.WriteError(w, httputil.BadRequest("category is required"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, categoryResponse{
		Category: category,
		Granted:  h.coord.CheckConsent(r.Context(), category),
	})
}

func (h *Handler) handleQueryConsent(w http.ResponseWriter, r *http.Request) {
	var req queryConsentRequest
	if err := h.decode(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	categories := make([]string, 0, len(req.Categories))
	for _, c := range req.Categories {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, h.coord.GetConsentFor(r.Context(), categories...))
}

func (h *Handler) handleSetConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.coord.Config(); !ok {
		httputil.WriteError(w, errNotConfigured)
		return
	}

	var req setConsentRequest
	if err := h.decode(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if len(req.Consent) == 0 && len(req.Extras) == 0 {
		httputil.WriteError(w, httputil.BadRequest("consent must name at least one category"))
		return
	}

	h.coord.SetConsentWithExtras(ctx, req.Consent, req.Extras)
	httputil.WriteJSON(w, http.StatusOK, h.coord.GetConsent(ctx))
}

func (h *Handler) handleSetEnvironment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setEnvironmentRequest
	if err := h.decode(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	err := h.coord.SetEnvironment(ctx, req.Environment)
	switch {
	case err == nil:
		h.handleStatus(w, r)
	case errors.Is(err, enforce.ErrNotConfigured):
		httputil.WriteError(w, errNotConfigured)
	case errors.Is(err, environment.ErrMissingEnvironment):
		httputil.WriteError(w, httputil.BadRequest("environment is required"))
	case errors.Is(err, enforce.ErrSuperseded):
		httputil.WriteError(w, httputil.Conflict("superseded", "configuration changed while the environment was validated"))
	case errors.Is(err, enforce.ErrFetchFailed), errors.Is(err, enforce.ErrDecodeFailed):
		h.logger.WarnContext(ctx, "environment rejected",
			"request_id", requestcontext.RequestID(ctx),
			"environment", req.Environment,
			"error", err,
		)
		httputil.WriteError(w, httputil.BadGateway(err.Error()))
	default:
		h.logger.ErrorContext(ctx, "failed to set environment",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
	}
}

func (h *Handler) handleShow(kind enforce.SurfaceKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.coord.Config(); !ok {
			httputil.WriteError(w, errNotConfigured)
			return
		}
		if kind == enforce.SurfaceBanner {
			h.coord.ShowBanner(r.Context())
		} else {
			h.coord.ShowModal(r.Context())
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{}
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	httputil.WriteJSON(w, status, body)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, into any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		return fmt.Errorf("decode body: %w", httputil.BadRequest("invalid request body"))
	}
	return nil
}
