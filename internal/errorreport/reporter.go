// Package errorreport sends best-effort diagnostic beacons to the nexus
// error endpoint.
package errorreport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"enforce/internal/environment"
	"enforce/internal/platform/httplog"
	"enforce/internal/version"
)

const (
	maxMessage     = 1024
	maxOrigin      = 256
	maxClient      = 256
	maxPublishPath = 256
	maxClientID    = 256
)

// Report describes one failure. ClientID is the document client id when a
// document was available.
type Report struct {
	Message  string
	Origin   string
	ClientID string
}

// Target is the configuration the failure happened under.
type Target struct {
	ClientName  string
	PublishPath string
	Debug       bool
}

// App identifies the embedding application in fn and User-Agent.
type App struct {
	Name    string
	Version string
}

// Reporter issues error beacons. It never returns errors to callers.
type Reporter struct {
	client  *http.Client
	logger  *slog.Logger
	app     App
	baseURL string
}

type Option func(*Reporter)

func WithHTTPClient(client *http.Client) Option {
	return func(r *Reporter) {
		if client != nil {
			r.client = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithApp(app App) Option {
	return func(r *Reporter) {
		if app.Name != "" {
			r.app.Name = app.Name
		}
		if app.Version != "" {
			r.app.Version = app.Version
		}
	}
}

// WithBaseURL sends beacons to base instead of the nexus host. Tests only.
func WithBaseURL(base string) Option {
	return func(r *Reporter) {
		r.baseURL = strings.TrimRight(base, "/")
	}
}

func New(opts ...Option) *Reporter {
	r := &Reporter{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
		app:    App{Name: filepath.Base(os.Args[0]), Version: "0"},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report sends the beacon and reports whether a response was received.
func (r *Reporter) Report(ctx context.Context, rep Report, target Target) bool {
	rawURL := r.URL(rep, target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to build error beacon", "error", err)
		return false
	}
	req.Header.Set("Referer", environment.ReferrerURL(target.ClientName, target.Debug))
	req.Header.Set("User-Agent", version.Library+"/"+version.SDK+" ("+r.app.Name+" "+r.app.Version+")")

	httplog.LogRequest(ctx, r.logger, req, target.Debug)
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.ErrorContext(ctx, "error beacon failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	httplog.LogResponse(ctx, r.logger, resp, body, target.Debug)
	r.logger.InfoContext(ctx, "error beacon sent", "status", resp.StatusCode)
	return true
}

// URL builds the error beacon URL without sending it.
func (r *Reporter) URL(rep Report, target Target) string {
	base := r.baseURL
	if base == "" {
		base = "https://" + environment.Host(target.Debug)
	}

	fn := rep.Origin + " " + version.Library + ":" + version.SDK + " " + r.app.Name + ":" + r.app.Version
	params := [][2]string{
		{"msg", truncate(rep.Message, maxMessage)},
		{"fn", truncate(fn, maxOrigin)},
		{"client", truncate(target.ClientName, maxClient)},
		{"publishPath", truncate(target.PublishPath, maxPublishPath)},
		{"errorName", "SDKError"},
	}
	if cid := strings.TrimSpace(rep.ClientID); cid != "" {
		params = append(params, [2]string{"cid", truncate(cid, maxClientID)})
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("/error/e.gif?")
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}

// truncate limits s to max bytes, ending in "..." when cut. The cut never
// splits a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
