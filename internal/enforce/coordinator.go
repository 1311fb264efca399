package enforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
	"weak"

	"enforce/internal/environment"
	"enforce/internal/errorreport"
	"enforce/internal/platform/metrics"
	"enforce/internal/reporting"
)

// Handler receives the full consent snapshot after every change.
type Handler func(snapshot map[string]bool)

// ConsentStore is the persistence the coordinator saves through.
type ConsentStore interface {
	Save(ctx context.Context, flags map[string]bool, version string, ttl time.Duration)
	LoadValid(ctx context.Context, version string) (map[string]bool, bool)
	Get(ctx context.Context, category string) bool
	GetMany(ctx context.Context, categories []string) map[string]bool
	GetAll(ctx context.Context) map[string]bool
}

// ErrorReporter receives failures the coordinator cannot surface to a caller.
type ErrorReporter interface {
	Report(ctx context.Context, rep errorreport.Report, target errorreport.Target) bool
}

// BeaconSink accepts built beacons for delivery.
type BeaconSink interface {
	Enqueue(req reporting.Request) bool
}

// Coordinator owns the active configuration, the last environment document,
// the reported-flag accumulator and the consent beacon sequence. One mutex
// guards all of them; subscriber callbacks always run outside it.
type Coordinator struct {
	store      ConsentStore
	fetcher    environment.Fetcher
	presenter  Presenter
	beacons    BeaconSink
	reporter   ErrorReporter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	instanceID string

	mu          sync.Mutex
	cfg         *Config
	generation  uint64
	document    *environment.Document
	accumulated map[string]bool
	sequence    int
	surface     weak.Pointer[Surface]
	presenting  bool

	handlersMu sync.RWMutex
	handlers   []Handler

	wg sync.WaitGroup
}

type Option func(*Coordinator)

func WithPresenter(p Presenter) Option {
	return func(c *Coordinator) {
		c.presenter = p
	}
}

func WithBeaconSink(sink BeaconSink) Option {
	return func(c *Coordinator) {
		c.beacons = sink
	}
}

func WithErrorReporter(r ErrorReporter) Option {
	return func(c *Coordinator) {
		c.reporter = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock overrides the beacon timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInstanceID pins the per-process instance id.
func WithInstanceID(id string) Option {
	return func(c *Coordinator) {
		if id != "" {
			c.instanceID = id
		}
	}
}

// New creates an unconfigured coordinator.
func New(store ConsentStore, fetcher environment.Fetcher, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("consent store is required")
	}
	if fetcher == nil {
		return nil, errors.New("environment fetcher is required")
	}
	c := &Coordinator{
		store:       store,
		fetcher:     fetcher,
		logger:      slog.Default(),
		now:         time.Now,
		instanceID:  newInstanceID(),
		accumulated: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// InstanceID is stable for the lifetime of the coordinator.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// Config returns the active configuration.
func (c *Coordinator) Config() (Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return Config{}, false
	}
	return c.cfg.clone(), true
}

// Configured reports whether Configure has succeeded at least once.
func (c *Coordinator) Configured() bool {
	_, ok := c.Config()
	return ok
}

// Document returns the last environment document, if one was fetched.
func (c *Coordinator) Document() *environment.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document
}

// OnConsent registers h for every later consent notification. Handlers
// cannot be removed.
func (c *Coordinator) OnConsent(h Handler) {
	if h == nil {
		return
	}
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, h)
	c.handlersMu.Unlock()
}

// Wait blocks until background fetches and error reports have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Configure activates cfg, notifies subscribers with the current consent and
// fetches the environment document in the background. It fails only when
// the document URL cannot be built.
func (c *Coordinator) Configure(ctx context.Context, cfg Config) error {
	docURL, err := cfg.DocumentURL()
	if err != nil {
		c.logger.ErrorContext(ctx, "invalid configuration", "error", err)
		if errors.Is(err, environment.ErrMissingEnvironment) {
			c.reportFailure(ctx, cfg, "configure", "Missing environment from configure", "")
		}
		return fmt.Errorf("configure: %w", err)
	}

	active := cfg.clone()
	c.mu.Lock()
	c.cfg = &active
	c.generation++
	gen := c.generation
	snapshot := c.store.GetAll(ctx)
	c.mu.Unlock()

	c.metrics.IncConfigure()
	c.logger.InfoContext(ctx, "configured", "client", active.ClientName, "environment", active.Environment, "url", docURL)
	c.notify(snapshot)

	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loadDocument(bg, active, docURL, gen)
	}()
	return nil
}

func (c *Coordinator) loadDocument(ctx context.Context, cfg Config, docURL string, gen uint64) {
	doc, err := c.fetcher.Fetch(ctx, docURL, cfg.Debug)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch environment document", "error", err)
		c.reportFailure(ctx, cfg, "configure", "Failed to fetch or decode JSON", "")
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "discarding stale environment document", "environment", cfg.Environment)
		return
	}
	c.document = doc
	billing, buildErr := reporting.Build(reporting.Input{
		Type:        reporting.BeaconBilling,
		ClientName:  cfg.ClientName,
		PublishPath: cfg.PublishPath,
		Environment: cfg.Environment,
		Debug:       cfg.Debug,
		Document:    doc,
		InstanceID:  c.instanceID,
		Timestamp:   c.now(),
	})
	c.mu.Unlock()

	c.dispatch(ctx, cfg, doc.ClientID, reporting.BeaconBilling, billing, buildErr)

	if saved, ok := c.store.LoadValid(ctx, cfg.Version); ok {
		c.logger.InfoContext(ctx, "valid consent found, skipping UI", "categories", len(saved))
		c.notify(saved)
		return
	}
	if !cfg.AutoShow {
		c.logger.InfoContext(ctx, "auto show disabled, skipping initial UI")
		return
	}

	switch {
	case doc.EnablePrivacyNotice:
		if doc.BannerConfig == nil {
			c.presentationFailure(ctx, cfg, doc, "configure", "Cannot show banner: Banner on but no banner config found")
			return
		}
		c.presentBanner(ctx, cfg, doc)
	case doc.EnableConsentModal:
		if !doc.Translation.HasModalText() {
			c.presentationFailure(ctx, cfg, doc, "configure", "Cannot show modal: Modal on but no consent title or description found")
			return
		}
		c.presentModal(ctx, cfg, doc, doc.ModalConfigOrEmpty())
	default:
		c.logger.ErrorContext(ctx, "no consent surface enabled for this environment")
	}
}

// SetConsent saves flags and reports them.
func (c *Coordinator) SetConsent(ctx context.Context, flags map[string]bool) {
	c.SetConsentWithExtras(ctx, flags, nil)
}

// SetConsentWithExtras saves flags, notifies subscribers with the merged
// snapshot and, once a document is known, sends a consent beacon for flags
// plus extras. Extras tag the report only and are never saved.
func (c *Coordinator) SetConsentWithExtras(ctx context.Context, flags, extras map[string]bool) {
	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		c.logger.ErrorContext(ctx, "set consent ignored", "error", ErrNotConfigured)
		return
	}
	cfg := c.cfg.clone()

	c.store.Save(ctx, flags, cfg.Version, cfg.DataRetention)
	snapshot := c.store.GetAll(ctx)

	var (
		req      reporting.Request
		buildErr error
		doc      = c.document
	)
	if doc != nil {
		delta := maps.Clone(flags)
		if delta == nil {
			delta = make(map[string]bool, len(extras))
		}
		maps.Copy(delta, extras)
		maps.Copy(c.accumulated, delta)

		req, buildErr = reporting.Build(reporting.Input{
			Type:           reporting.BeaconConsent,
			ClientName:     cfg.ClientName,
			PublishPath:    cfg.PublishPath,
			Environment:    cfg.Environment,
			Debug:          cfg.Debug,
			DefaultConsent: cfg.DefaultConsent,
			Document:       doc,
			Delta:          delta,
			Accumulated:    maps.Clone(c.accumulated),
			Sequence:       c.sequence,
			InstanceID:     c.instanceID,
			Timestamp:      c.now(),
		})
		if buildErr == nil {
			c.sequence++
		}
	}
	c.mu.Unlock()

	c.metrics.IncConsentUpdate()
	c.logger.InfoContext(ctx, "consent updated", "categories", len(flags))
	c.notify(snapshot)

	if doc != nil {
		c.dispatch(ctx, cfg, doc.ClientID, reporting.BeaconConsent, req, buildErr)
	}
}

// SetEnvironment validates env by fetching its document and only then makes
// it active. On failure the active configuration is left as it was.
//
// Unlike SetConsent, it returns ErrNotConfigured before Configure has run so
// that callers such as the HTTP API can reject the request. The call is still
// logged and changes nothing.
func (c *Coordinator) SetEnvironment(ctx context.Context, env string) error {
	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		c.logger.ErrorContext(ctx, "set environment ignored", "error", ErrNotConfigured)
		return ErrNotConfigured
	}
	current := c.cfg.clone()
	gen := c.generation
	var clientID string
	if c.document != nil {
		clientID = c.document.ClientID
	}
	c.mu.Unlock()

	updated := current.WithEnvironment(env)
	docURL, err := updated.DocumentURL()
	if err != nil {
		c.logger.ErrorContext(ctx, "invalid environment", "environment", env, "error", err)
		c.reportFailure(ctx, current, "setEnvironment", "Invalid environment string", clientID)
		return fmt.Errorf("set environment: %w", err)
	}

	doc, err := c.fetcher.Fetch(ctx, docURL, current.Debug)
	if err != nil {
		c.logger.ErrorContext(ctx, "environment rejected, keeping previous",
			"environment", env,
			"previous", current.Environment,
			"error", err,
		)
		c.reportFailure(ctx, current, "setEnvironment",
			fmt.Sprintf("Environment '%s' isn't valid, keeping previous", env), clientID)
		return fmt.Errorf("set environment %q: %w", env, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return fmt.Errorf("set environment %q: %w", env, ErrSuperseded)
	}
	c.cfg = &updated
	c.generation++
	c.document = doc
	c.logger.InfoContext(ctx, "environment updated", "environment", updated.Environment)
	return nil
}

// CheckConsent reports the stored value for category, false when unknown.
func (c *Coordinator) CheckConsent(ctx context.Context, category string) bool {
	return c.store.Get(ctx, category)
}

// GetConsent returns every stored category.
func (c *Coordinator) GetConsent(ctx context.Context) map[string]bool {
	return c.store.GetAll(ctx)
}

// GetConsentFor returns exactly the requested categories.
func (c *Coordinator) GetConsentFor(ctx context.Context, categories ...string) map[string]bool {
	return c.store.GetMany(ctx, categories)
}

// ShowBanner fetches a fresh document and presents the banner if the
// environment enables it.
func (c *Coordinator) ShowBanner(ctx context.Context) {
	c.showSurface(ctx, SurfaceBanner)
}

// ShowModal fetches a fresh document and presents the modal if the
// environment enables it.
func (c *Coordinator) ShowModal(ctx context.Context) {
	c.showSurface(ctx, SurfaceModal)
}

func (c *Coordinator) showSurface(ctx context.Context, kind SurfaceKind) {
	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		c.logger.ErrorContext(ctx, "show ignored", "surface", kind, "error", ErrNotConfigured)
		return
	}
	cfg := c.cfg.clone()
	gen := c.generation
	c.mu.Unlock()

	docURL, err := cfg.DocumentURL()
	if err != nil {
		c.logger.ErrorContext(ctx, "show ignored", "surface", kind, "error", err)
		return
	}

	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.fetchAndShow(bg, cfg, docURL, gen, kind)
	}()
}

func (c *Coordinator) fetchAndShow(ctx context.Context, cfg Config, docURL string, gen uint64, kind SurfaceKind) {
	origin := "show" + string(kind)
	doc, err := c.fetcher.Fetch(ctx, docURL, cfg.Debug)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch environment document", "surface", kind, "error", err)
		c.reportFailure(ctx, cfg, origin, "Failed to fetch or decode JSON", "")
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "discarding stale surface request", "surface", kind, "environment", cfg.Environment)
		return
	}
	c.document = doc
	c.mu.Unlock()

	switch kind {
	case SurfaceBanner:
		if !doc.EnablePrivacyNotice {
			c.logger.InfoContext(ctx, "banner not enabled, skipping")
			return
		}
		if doc.BannerConfig == nil {
			c.presentationFailure(ctx, cfg, doc, origin, "Cannot show banner: Banner on but no banner config found")
			return
		}
		c.presentBanner(ctx, cfg, doc)
	case SurfaceModal:
		if !doc.EnableConsentModal {
			c.logger.InfoContext(ctx, "modal not enabled, skipping")
			return
		}
		if doc.ConsentModalConfig == nil {
			c.presentationFailure(ctx, cfg, doc, origin, "Cannot show Modal: Modal on but no Modal config found")
			return
		}
		c.presentModal(ctx, cfg, doc, *doc.ConsentModalConfig)
	}
}

func (c *Coordinator) presentBanner(ctx context.Context, cfg Config, doc *environment.Document) {
	c.present(ctx, SurfaceBanner, func(p Presenter) (*Surface, error) {
		return p.PresentBanner(ctx, BannerRequest{
			ClientName:  cfg.ClientName,
			Translation: doc.Translation,
			Banner:      *doc.BannerConfig,
			Modal:       doc.ModalConfigOrEmpty(),
			Appearance:  cfg.Appearance,
		})
	})
}

func (c *Coordinator) presentModal(ctx context.Context, cfg Config, doc *environment.Document, modal environment.ConsentModalConfig) {
	c.present(ctx, SurfaceModal, func(p Presenter) (*Surface, error) {
		return p.PresentModal(ctx, ModalRequest{
			ClientName:  cfg.ClientName,
			Translation: doc.Translation,
			Modal:       modal,
			Appearance:  cfg.Appearance,
		})
	})
}

// present asks the presenter for a surface unless one is still alive.
func (c *Coordinator) present(ctx context.Context, kind SurfaceKind, show func(Presenter) (*Surface, error)) {
	if c.presenter == nil {
		c.logger.WarnContext(ctx, "no presenter configured", "surface", kind)
		return
	}

	c.mu.Lock()
	if c.presenting {
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "surface request already in progress, ignoring", "surface", kind)
		return
	}
	if current := c.surface.Value(); current != nil && !current.Dismissed() {
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "surface already shown, ignoring", "surface", kind, "current", current.ID)
		return
	}
	c.presenting = true
	c.mu.Unlock()

	surface, err := show(c.presenter)

	c.mu.Lock()
	c.presenting = false
	if err == nil && surface != nil {
		c.surface = weak.Make(surface)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.ErrorContext(ctx, "presenter failed", "surface", kind, "error", err)
		return
	}
	c.metrics.IncPresented(string(kind))
}

func (c *Coordinator) presentationFailure(ctx context.Context, cfg Config, doc *environment.Document, origin, msg string) {
	c.logger.ErrorContext(ctx, msg, "error", ErrMissingPresentationData)
	c.reportFailure(ctx, cfg, origin, msg, doc.ClientID)
}

// dispatch enqueues a built beacon or reports why it could not be built.
func (c *Coordinator) dispatch(ctx context.Context, cfg Config, clientID string, typ reporting.BeaconType, req reporting.Request, buildErr error) {
	if buildErr != nil {
		c.logger.ErrorContext(ctx, "beacon build failed", "type", typ, "error", buildErr)
		c.reportFailure(ctx, cfg, "send", "Error encoding or sending beacon: "+buildErr.Error(), clientID)
		return
	}
	if c.beacons == nil {
		return
	}
	c.logger.DebugContext(ctx, "beacon queued", "type", typ, "url", req.URL)
	c.beacons.Enqueue(req)
}

// BeaconFailed routes a delivery failure from the dispatcher to the error
// reporter using the active configuration.
func (c *Coordinator) BeaconFailed(ctx context.Context, req reporting.Request, err error) {
	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		return
	}
	cfg := c.cfg.clone()
	var clientID string
	if c.document != nil {
		clientID = c.document.ClientID
	}
	c.mu.Unlock()

	c.reportFailure(ctx, cfg, "send", "Error encoding or sending beacon: "+err.Error(), clientID)
}

// reportFailure is the single place failures are handed to the error
// reporter. The report runs in the background and is tracked by Wait.
func (c *Coordinator) reportFailure(ctx context.Context, cfg Config, origin, msg, clientID string) {
	if c.reporter == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ok := c.reporter.Report(bg, errorreport.Report{
			Message:  msg,
			Origin:   origin,
			ClientID: clientID,
		}, cfg.target())
		c.metrics.IncErrorReport(ok)
	}()
}

func (c *Coordinator) notify(snapshot map[string]bool) {
	c.handlersMu.RLock()
	handlers := slices.Clone(c.handlers)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(maps.Clone(snapshot))
	}
}
