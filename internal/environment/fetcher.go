package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"enforce/internal/platform/httplog"
)

var (
	ErrFetchFailed  = errors.New("fetch environment document")
	ErrDecodeFailed = errors.New("decode environment document")
)

const (
	requestTimeout  = 10 * time.Second
	resourceTimeout = 15 * time.Second
	maxDocumentSize = 4 << 20
)

// Fetcher retrieves and decodes the environment document at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, debug bool) (*Document, error)
}

// HTTPFetcher fetches documents over HTTP. Concurrent fetches of the same
// URL share one request; the returned document must not be mutated.
type HTTPFetcher struct {
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
	group  singleflight.Group
}

type Option func(*HTTPFetcher)

func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *HTTPFetcher) {
		if tp != nil {
			f.tracer = tp.Tracer("enforce/environment")
		}
	}
}

func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = requestTimeout

	f := &HTTPFetcher{
		client: &http.Client{Timeout: resourceTimeout, Transport: transport},
		logger: slog.Default(),
		tracer: otel.Tracer("enforce/environment"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the decoded document. Errors wrap ErrFetchFailed or
// ErrDecodeFailed. A caller whose ctx ends stops waiting, but the shared
// request keeps running for the other waiters.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, debug bool) (*Document, error) {
	key := rawURL
	if debug {
		key += "#debug"
	}
	ch := f.group.DoChan(key, func() (any, error) {
		return f.fetch(context.WithoutCancel(ctx), rawURL, debug)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Document), nil
	}
}

func (f *HTTPFetcher) fetch(ctx context.Context, rawURL string, debug bool) (doc *Document, err error) {
	ctx, span := f.tracer.Start(ctx, "environment.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", rawURL)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	httplog.LogRequest(ctx, f.logger, req, debug)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetchFailed, err)
	}
	httplog.LogResponse(ctx, f.logger, resp, body, debug)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetchFailed, resp.StatusCode)
	}

	doc, err = Decode(body)
	if err != nil {
		return nil, err
	}
	f.logger.DebugContext(ctx, "environment document decoded",
		"client_id", doc.ClientID,
		"version", doc.Version,
	)
	return doc, nil
}
