// Package httplog dumps outbound requests and responses at debug level.
package httplog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
)

// maxBody caps the logged body so large documents do not flood the log.
const maxBody = 64 << 10

// LogRequest writes the method, URL, headers and body of req when enabled.
// The request body, if any, is restored for the caller.
func LogRequest(ctx context.Context, logger *slog.Logger, req *http.Request, enabled bool) {
	if !enabled || logger == nil || req == nil {
		return
	}
	attrs := []any{
		"method", req.Method,
		"url", req.URL.String(),
	}
	if len(req.Header) > 0 {
		attrs = append(attrs, "headers", headerAttrs(req.Header))
	}
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
		if err == nil && len(body) > 0 {
			attrs = append(attrs, "body", truncate(body))
		}
	}
	logger.DebugContext(ctx, "http request", attrs...)
}

// LogResponse writes the status, headers and body of a response when
// enabled. Bodies of 204 responses are skipped.
func LogResponse(ctx context.Context, logger *slog.Logger, resp *http.Response, body []byte, enabled bool) {
	if !enabled || logger == nil || resp == nil {
		return
	}
	attrs := []any{"status", resp.StatusCode}
	if len(resp.Header) > 0 {
		attrs = append(attrs, "headers", headerAttrs(resp.Header))
	}
	if resp.StatusCode != http.StatusNoContent && len(body) > 0 {
		attrs = append(attrs, "body", truncate(body))
	}
	logger.DebugContext(ctx, "http response", attrs...)
}

func headerAttrs(h http.Header) slog.Value {
	attrs := make([]slog.Attr, 0, len(h))
	for k, v := range h {
		if len(v) == 1 {
			attrs = append(attrs, slog.String(k, v[0]))
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

func truncate(body []byte) string {
	if len(body) > maxBody {
		return string(body[:maxBody]) + "..."
	}
	return string(body)
}
