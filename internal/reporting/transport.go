package reporting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"enforce/internal/platform/httplog"
	"enforce/internal/version"
)

// ErrUnexpectedStatus is returned for 5xx beacon responses.
var ErrUnexpectedStatus = errors.New("unexpected beacon response status")

// Transport delivers a built beacon request.
type Transport interface {
	Send(ctx context.Context, req Request) (status int, err error)
}

// HTTPTransport issues beacon requests with net/http.
type HTTPTransport struct {
	client *http.Client
	logger *slog.Logger
}

type TransportOption func(*HTTPTransport)

func WithTransportClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewHTTPTransport(opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) Send(ctx context.Context, req Request) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("new beacon request: %w", err)
	}
	httpReq.Header.Set("User-Agent", version.Library+"/"+version.SDK)

	httplog.LogRequest(ctx, t.logger, httpReq, req.Debug)
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("send beacon: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	httplog.LogResponse(ctx, t.logger, resp, body, req.Debug)

	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return resp.StatusCode, nil
}
