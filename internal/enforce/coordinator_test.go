package enforce_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"enforce/internal/consent"
	"enforce/internal/enforce"
	"enforce/internal/enforce/mocks"
	"enforce/internal/environment"
	"enforce/internal/errorreport"
	"enforce/internal/reporting"
)

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]*environment.Document
	errs  map[string]error
	gates map[string]chan struct{}
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs:  map[string]*environment.Document{},
		errs:  map[string]error{},
		gates: map[string]chan struct{}{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, _ bool) (*environment.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	gate, doc, err := f.gates[rawURL], f.docs[rawURL], f.errs[rawURL]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: no fixture for %s", environment.ErrFetchFailed, rawURL)
	}
	return doc, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingSink struct {
	mu       sync.Mutex
	requests []reporting.Request
}

func (s *recordingSink) Enqueue(req reporting.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return true
}

func (s *recordingSink) ofType(t reporting.BeaconType) []reporting.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reporting.Request
	for _, r := range s.requests {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []errorreport.Report
}

func (r *recordingReporter) Report(_ context.Context, rep errorreport.Report, _ errorreport.Target) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return true
}

func (r *recordingReporter) all() []errorreport.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]errorreport.Report(nil), r.reports...)
}

type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []map[string]bool
}

func (r *snapshotRecorder) handle(s map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *snapshotRecorder) all() []map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]bool(nil), r.snapshots...)
}

func bannerDocument() *environment.Document {
	return &environment.Document{
		ClientID:            "c-1234",
		Version:             "42",
		Enforcement:         true,
		EnablePrivacyNotice: true,
		EnableConsentModal:  true,
		Translation: environment.Translation{
			NotificationBannerContent: "We use cookies.",
			ConsentTitle:              "Your privacy",
			ConsentDescription:        "Pick categories.",
		},
		BannerConfig: &environment.BannerConfig{
			AcceptAll: &environment.Item{Show: true},
		},
		ConsentModalConfig: &environment.ConsentModalConfig{
			SaveModal: &environment.Item{Show: true},
		},
	}
}

type CoordinatorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	presenter *mocks.MockPresenter
	fetcher   *fakeFetcher
	sink      *recordingSink
	reporter  *recordingReporter
	store     *consent.Store
	coord     *enforce.Coordinator
	cfg       enforce.Config
	now       time.Time
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.presenter = mocks.NewMockPresenter(s.ctrl)
	s.fetcher = newFakeFetcher()
	s.sink = &recordingSink{}
	s.reporter = &recordingReporter{}
	s.now = time.UnixMilli(1_700_000_000_000)

	store, err := consent.New(consent.NewMemoryBackend())
	s.Require().NoError(err)
	s.store = store

	s.coord = s.newCoordinator(s.presenter)
	s.cfg = enforce.NewConfig("demoretail", "mobile", "prod", enforce.WithAutoShow(false))
	s.fetcher.docs[s.url(s.cfg)] = bannerDocument()
}

func (s *CoordinatorSuite) newCoordinator(p enforce.Presenter) *enforce.Coordinator {
	coord, err := enforce.New(s.store, s.fetcher,
		enforce.WithPresenter(p),
		enforce.WithBeaconSink(s.sink),
		enforce.WithErrorReporter(s.reporter),
		enforce.WithClock(func() time.Time { return s.now }),
		enforce.WithInstanceID("4fti4g"),
	)
	s.Require().NoError(err)
	return coord
}

func (s *CoordinatorSuite) url(cfg enforce.Config) string {
	u, err := cfg.DocumentURL()
	s.Require().NoError(err)
	return u
}

func (s *CoordinatorSuite) configure(cfg enforce.Config) {
	s.Require().NoError(s.coord.Configure(context.Background(), cfg))
	s.coord.Wait()
}

func (s *CoordinatorSuite) decode(req reporting.Request, into any) reporting.Decoded {
	decoded, err := reporting.DecodeURL(req.URL)
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(decoded.Payload, into))
	return decoded
}

func (s *CoordinatorSuite) TestNew_RequiresCollaborators() {
	_, err := enforce.New(nil, s.fetcher)
	s.Error(err)
	_, err = enforce.New(s.store, nil)
	s.Error(err)
}

func (s *CoordinatorSuite) TestConfigure_NotifiesOnceAndSendsBilling() {
	rec := &snapshotRecorder{}
	s.coord.OnConsent(rec.handle)

	s.configure(s.cfg)

	s.Equal([]map[string]bool{{}}, rec.all())
	billing := s.sink.ofType(reporting.BeaconBilling)
	s.Require().Len(billing, 1)

	var payload reporting.BillingPayload
	decoded := s.decode(billing[0], &payload)
	s.Equal(0, decoded.Sequence)
	s.Equal("4fti4g", payload.InstanceID)
	s.Equal("42", payload.Gateway)
	s.Equal(s.now.UnixMilli(), payload.Requests[0].ID)
	s.Same(s.fetcher.docs[s.url(s.cfg)], s.coord.Document())
	s.True(s.coord.Configured())
}

func (s *CoordinatorSuite) TestConfigure_MissingFieldsAbortBeforeFetch() {
	err := s.coord.Configure(context.Background(), enforce.NewConfig("demoretail", "mobile", "  "))
	s.Require().ErrorIs(err, environment.ErrMissingEnvironment)

	err = s.coord.Configure(context.Background(), enforce.NewConfig("", "mobile", "prod"))
	s.Require().ErrorIs(err, environment.ErrMissingClient)

	err = s.coord.Configure(context.Background(), enforce.NewConfig("demoretail", "", "prod"))
	s.Require().ErrorIs(err, environment.ErrMissingPublishPath)
	s.coord.Wait()

	s.Zero(s.fetcher.callCount())
	s.False(s.coord.Configured())
	reports := s.reporter.all()
	s.Require().Len(reports, 1, "only a missing environment is reported")
	s.Equal("Missing environment from configure", reports[0].Message)
}

func (s *CoordinatorSuite) TestSetConsent_NotConfiguredIsNoop() {
	rec := &snapshotRecorder{}
	s.coord.OnConsent(rec.handle)

	s.coord.SetConsent(context.Background(), map[string]bool{"Analytics": true})

	s.Empty(rec.all())
	s.Empty(s.coord.GetConsent(context.Background()))
	s.Empty(s.sink.ofType(reporting.BeaconConsent))
}

func (s *CoordinatorSuite) TestSetConsent_SequenceAndAccumulatedCookies() {
	ctx := context.Background()
	rec := &snapshotRecorder{}
	s.coord.OnConsent(rec.handle)
	s.configure(s.cfg)

	s.coord.SetConsent(ctx, map[string]bool{"Analytics": true})
	s.coord.SetConsentWithExtras(ctx, map[string]bool{"Marketing": false}, map[string]bool{enforce.ExtraBannerViewed: true})

	consentBeacons := s.sink.ofType(reporting.BeaconConsent)
	s.Require().Len(consentBeacons, 2)

	var first reporting.ConsentPayload
	s.Equal(0, s.decode(consentBeacons[0], &first).Sequence)
	s.Equal(map[string]string{"DEMORETAIL_ENSIGHTEN_PRIVACY_ANALYTICS": "1"}, first.Cookies)
	s.Require().Len(first.Events, 1)
	s.Equal("Analytics", first.Events[0].Key)
	s.Equal("1", first.Events[0].Value)

	var second reporting.ConsentPayload
	s.Equal(1, s.decode(consentBeacons[1], &second).Sequence)
	s.Equal(map[string]string{
		"DEMORETAIL_ENSIGHTEN_PRIVACY_ANALYTICS":     "1",
		"DEMORETAIL_ENSIGHTEN_PRIVACY_MARKETING":     "0",
		"DEMORETAIL_ENSIGHTEN_PRIVACY_BANNER_VIEWED": "1",
	}, second.Cookies)
	s.Len(second.Events, 2)

	s.Equal(map[string]bool{"Analytics": true, "Marketing": false}, s.coord.GetConsent(ctx), "extras are not persisted")
	s.Equal([]map[string]bool{
		{},
		{"Analytics": true},
		{"Analytics": true, "Marketing": false},
	}, rec.all())
}

func (s *CoordinatorSuite) TestSetConsent_BeforeDocumentSkipsBeacon() {
	gate := make(chan struct{})
	s.fetcher.gates[s.url(s.cfg)] = gate

	rec := &snapshotRecorder{}
	s.coord.OnConsent(rec.handle)
	s.Require().NoError(s.coord.Configure(context.Background(), s.cfg))

	s.coord.SetConsent(context.Background(), map[string]bool{"Analytics": true})
	close(gate)
	s.coord.Wait()

	s.Empty(s.sink.ofType(reporting.BeaconConsent))
	s.Len(s.sink.ofType(reporting.BeaconBilling), 1)
	// the consent saved while fetching is valid once the document lands
	s.Equal([]map[string]bool{
		{},
		{"Analytics": true},
		{"Analytics": true},
	}, rec.all())
}

func (s *CoordinatorSuite) TestConfigure_ValidStoredConsentSkipsUI() {
	ctx := context.Background()
	s.store.Save(ctx, map[string]bool{"Analytics": true}, "1", time.Hour)
	rec := &snapshotRecorder{}
	s.coord.OnConsent(rec.handle)

	// no presenter expectations: any UI request fails the test
	s.configure(enforce.NewConfig("demoretail", "mobile", "prod"))

	s.Equal([]map[string]bool{
		{"Analytics": true},
		{"Analytics": true},
	}, rec.all())
}

func (s *CoordinatorSuite) TestConfigure_StaleVersionPurgedAndBannerShown() {
	ctx := context.Background()
	s.store.Save(ctx, map[string]bool{"Analytics": true}, "1", time.Hour)
	cfg := enforce.NewConfig("demoretail", "mobile", "prod", enforce.WithVersion("2"), enforce.WithAppearance(enforce.AppearanceDark))

	s.presenter.EXPECT().
		PresentBanner(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req enforce.BannerRequest) (*enforce.Surface, error) {
			s.Equal(enforce.AppearanceDark, req.Appearance)
			s.True(req.Banner.AcceptAll.Shown())
			s.True(req.Modal.SaveModal.Shown())
			s.coord.SetConsentWithExtras(ctx, map[string]bool{"Analytics": false}, map[string]bool{enforce.ExtraBannerViewed: true})
			return enforce.NewSurface(enforce.SurfaceBanner), nil
		})

	s.configure(cfg)

	s.Equal(map[string]bool{"Analytics": false}, s.coord.GetConsent(ctx))
	s.Len(s.sink.ofType(reporting.BeaconConsent), 1)
}

func (s *CoordinatorSuite) TestConfigure_AutoShowDisabled() {
	s.configure(s.cfg)
	s.Empty(s.reporter.all())
}

func (s *CoordinatorSuite) TestConfigure_BannerWithoutConfigIsReported() {
	cfg := enforce.NewConfig("demoretail", "mobile", "prod")
	doc := bannerDocument()
	doc.BannerConfig = nil
	s.fetcher.docs[s.url(cfg)] = doc

	s.configure(cfg)

	reports := s.reporter.all()
	s.Require().Len(reports, 1)
	s.Equal("Cannot show banner: Banner on but no banner config found", reports[0].Message)
	s.Equal("c-1234", reports[0].ClientID)
}

func (s *CoordinatorSuite) TestConfigure_ModalFallback() {
	cfg := enforce.NewConfig("demoretail", "mobile", "prod")
	doc := bannerDocument()
	doc.EnablePrivacyNotice = false
	doc.ConsentModalConfig = nil
	s.fetcher.docs[s.url(cfg)] = doc

	s.presenter.EXPECT().
		PresentModal(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req enforce.ModalRequest) (*enforce.Surface, error) {
			s.Equal(environment.ConsentModalConfig{}, req.Modal)
			s.Equal("Your privacy", req.Translation.ConsentTitle)
			return enforce.NewSurface(enforce.SurfaceModal), nil
		})

	s.configure(cfg)
	s.Empty(s.reporter.all())
}

func (s *CoordinatorSuite) TestConfigure_ModalWithoutTextIsReported() {
	cfg := enforce.NewConfig("demoretail", "mobile", "prod")
	doc := bannerDocument()
	doc.EnablePrivacyNotice = false
	doc.Translation.ConsentDescription = ""
	s.fetcher.docs[s.url(cfg)] = doc

	s.configure(cfg)

	reports := s.reporter.all()
	s.Require().Len(reports, 1)
	s.Contains(reports[0].Message, "Cannot show modal")
}

func (s *CoordinatorSuite) TestConfigure_FetchFailureIsReported() {
	s.fetcher.errs[s.url(s.cfg)] = fmt.Errorf("%w: boom", environment.ErrDecodeFailed)

	s.configure(s.cfg)

	s.Nil(s.coord.Document())
	s.Empty(s.sink.ofType(reporting.BeaconBilling))
	reports := s.reporter.all()
	s.Require().Len(reports, 1)
	s.Equal("Failed to fetch or decode JSON", reports[0].Message)
	s.Equal("configure", reports[0].Origin)
}

func (s *CoordinatorSuite) TestConfigure_StaleFetchIsDiscarded() {
	older := s.cfg
	newer := s.cfg.WithEnvironment("staging")
	gate := make(chan struct{})
	s.fetcher.gates[s.url(older)] = gate
	newerDoc := bannerDocument()
	newerDoc.Version = "43"
	s.fetcher.docs[s.url(newer)] = newerDoc

	s.Require().NoError(s.coord.Configure(context.Background(), older))
	s.Require().NoError(s.coord.Configure(context.Background(), newer))
	s.Eventually(func() bool { return s.coord.Document() != nil }, time.Second, time.Millisecond)
	close(gate)
	s.coord.Wait()

	s.Same(newerDoc, s.coord.Document())
	billing := s.sink.ofType(reporting.BeaconBilling)
	s.Require().Len(billing, 1)
	var payload reporting.BillingPayload
	s.decode(billing[0], &payload)
	s.Equal("43", payload.Gateway)
	s.Equal("staging", payload.Environment)
}

func (s *CoordinatorSuite) TestSetEnvironment() {
	ctx := context.Background()

	s.Run("requires configuration", func() {
		s.ErrorIs(s.coord.SetEnvironment(ctx, "staging"), enforce.ErrNotConfigured)
	})

	s.configure(s.cfg)

	s.Run("failure keeps previous configuration", func() {
		err := s.coord.SetEnvironment(ctx, "missing")
		s.Require().ErrorIs(err, enforce.ErrFetchFailed)

		cfg, ok := s.coord.Config()
		s.Require().True(ok)
		s.Equal("prod", cfg.Environment)

		s.coord.Wait()
		reports := s.reporter.all()
		s.Require().NotEmpty(reports)
		last := reports[len(reports)-1]
		s.Equal("Environment 'missing' isn't valid, keeping previous", last.Message)
		s.Equal("c-1234", last.ClientID)
	})

	s.Run("blank environment is rejected", func() {
		s.ErrorIs(s.coord.SetEnvironment(ctx, " "), environment.ErrMissingEnvironment)
	})

	s.Run("success swaps only the environment", func() {
		staging := bannerDocument()
		staging.ClientID = "c-staging"
		s.fetcher.docs[s.url(s.cfg.WithEnvironment("staging"))] = staging

		s.Require().NoError(s.coord.SetEnvironment(ctx, "staging"))

		cfg, ok := s.coord.Config()
		s.Require().True(ok)
		s.Equal("staging", cfg.Environment)
		s.Equal("demoretail", cfg.ClientName)
		s.False(cfg.AutoShow)
		s.Same(staging, s.coord.Document())
	})
}

func (s *CoordinatorSuite) TestShowBanner_IgnoredWhileSurfaceAlive() {
	ctx := context.Background()
	s.configure(s.cfg)

	shown := enforce.NewSurface(enforce.SurfaceBanner)
	s.presenter.EXPECT().PresentBanner(gomock.Any(), gomock.Any()).Return(shown, nil).Times(1)

	s.coord.ShowBanner(ctx)
	s.coord.Wait()
	s.coord.ShowBanner(ctx)
	s.coord.Wait()

	shown.Dismiss()
	s.presenter.EXPECT().PresentBanner(gomock.Any(), gomock.Any()).Return(enforce.NewSurface(enforce.SurfaceBanner), nil).Times(1)
	s.coord.ShowBanner(ctx)
	s.coord.Wait()
}

func (s *CoordinatorSuite) TestShowBanner_SupersededByConfigureSkipsPresenter() {
	ctx := context.Background()
	s.configure(s.cfg)

	gate := make(chan struct{})
	s.fetcher.gates[s.url(s.cfg)] = gate
	staging := enforce.NewConfig("demoretail", "mobile", "staging", enforce.WithAutoShow(false))
	s.fetcher.docs[s.url(staging)] = bannerDocument()

	// no presenter expectations: the banner fetched for prod must not be shown
	s.coord.ShowBanner(ctx)
	s.Require().NoError(s.coord.Configure(ctx, staging))
	close(gate)
	s.coord.Wait()

	cfg, ok := s.coord.Config()
	s.Require().True(ok)
	s.Equal("staging", cfg.Environment)
	s.Empty(s.reporter.all())
}

func (s *CoordinatorSuite) TestShowModal_RequiresModalConfig() {
	ctx := context.Background()
	s.configure(s.cfg)

	doc := bannerDocument()
	doc.ConsentModalConfig = nil
	s.fetcher.docs[s.url(s.cfg)] = doc

	s.coord.ShowModal(ctx)
	s.coord.Wait()

	reports := s.reporter.all()
	s.Require().Len(reports, 1)
	s.Equal("Cannot show Modal: Modal on but no Modal config found", reports[0].Message)
	s.Equal("showmodal", reports[0].Origin)
}

func (s *CoordinatorSuite) TestShowBanner_DisabledSkips() {
	ctx := context.Background()
	s.configure(s.cfg)
	s.fetcher.docs[s.url(s.cfg)].EnablePrivacyNotice = false

	s.coord.ShowBanner(ctx)
	s.coord.Wait()
	s.Empty(s.reporter.all())
}

func (s *CoordinatorSuite) TestShow_NotConfigured() {
	s.coord.ShowBanner(context.Background())
	s.coord.ShowModal(context.Background())
	s.coord.Wait()
	s.Zero(s.fetcher.callCount())
}

func (s *CoordinatorSuite) TestConcurrentSetConsentSerializes() {
	ctx := context.Background()
	s.configure(s.cfg)

	const writers = 40
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.coord.SetConsent(ctx, map[string]bool{fmt.Sprintf("cat%02d", i): true})
		}()
	}
	wg.Wait()

	s.Len(s.coord.GetConsent(ctx), writers)

	beacons := s.sink.ofType(reporting.BeaconConsent)
	s.Require().Len(beacons, writers)
	seen := map[int]bool{}
	maxCookies := 0
	for _, b := range beacons {
		var payload reporting.ConsentPayload
		decoded := s.decode(b, &payload)
		seen[decoded.Sequence] = true
		s.Len(payload.Cookies, decoded.Sequence+1, "cookie map grows with the sequence")
		maxCookies = max(maxCookies, len(payload.Cookies))
	}
	s.Len(seen, writers)
	s.Equal(writers, maxCookies)
}

func (s *CoordinatorSuite) TestQueries() {
	ctx := context.Background()
	s.configure(s.cfg)
	s.coord.SetConsent(ctx, map[string]bool{"Analytics": true, "Marketing": false})

	s.True(s.coord.CheckConsent(ctx, "Analytics"))
	s.False(s.coord.CheckConsent(ctx, "Unknown"))
	s.Equal(map[string]bool{"Analytics": true, "Functional": false}, s.coord.GetConsentFor(ctx, "Analytics", "Functional"))
}

func (s *CoordinatorSuite) TestBeaconFailedIsReported() {
	s.configure(s.cfg)

	s.coord.BeaconFailed(context.Background(), reporting.Request{Type: reporting.BeaconConsent}, errors.New("connection reset"))
	s.coord.Wait()

	reports := s.reporter.all()
	s.Require().Len(reports, 1)
	s.Equal("Error encoding or sending beacon: connection reset", reports[0].Message)
	s.Equal("c-1234", reports[0].ClientID)
}

// surfaceFactory hands out surfaces without keeping them reachable.
type surfaceFactory struct {
	mu    sync.Mutex
	calls int
}

func (f *surfaceFactory) PresentBanner(context.Context, enforce.BannerRequest) (*enforce.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return enforce.NewSurface(enforce.SurfaceBanner), nil
}

func (f *surfaceFactory) PresentModal(context.Context, enforce.ModalRequest) (*enforce.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return enforce.NewSurface(enforce.SurfaceModal), nil
}

func (s *CoordinatorSuite) TestCollectedSurfaceDoesNotBlock() {
	factory := &surfaceFactory{}
	s.coord = s.newCoordinator(factory)
	s.configure(s.cfg)

	s.coord.ShowBanner(context.Background())
	s.coord.Wait()
	runtime.GC()
	runtime.GC()
	s.coord.ShowModal(context.Background())
	s.coord.Wait()

	factory.mu.Lock()
	defer factory.mu.Unlock()
	s.Equal(2, factory.calls)
}
