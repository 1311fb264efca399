package consent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"enforce/pkg/platform/sentinel"
)

const (
	purgeExpired         = "expired"
	purgeVersionMismatch = "version_mismatch"
)

// Store is the only way into persisted consent. It merges new decisions into
// the stored record, applies the retention rules and purges records that are
// expired or were saved under another configuration version.
//
// Backend failures never reach the caller: a failed write counts as nothing
// persisted and a failed read counts as nothing stored.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("consent backend is required")
	}
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save merges flags into the current record and persists the result with
// the given version. A positive ttl refreshes the expiry to now+ttl; otherwise
// a still-valid record keeps its expiry and a new record gets DefaultRetention.
func (s *Store) Save(ctx context.Context, flags map[string]bool, version string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	merged := map[string]bool{}
	var base *Record
	if existing := s.read(ctx); existing != nil && existing.IsValid(now, version) {
		base = existing
		merged = cloneFlags(existing.Flags)
	}
	for category, granted := range flags {
		merged[category] = granted
	}

	var expiresAt time.Time
	switch {
	case ttl > 0:
		expiresAt = now.Add(ttl)
	case base != nil:
		expiresAt = base.ExpiresAt
	default:
		expiresAt = now.Add(DefaultRetention)
	}

	record := Record{Flags: merged, ExpiresAt: expiresAt, Version: version}
	if err := s.backend.Write(ctx, record); err != nil {
		s.metrics.incBackendFailure("write")
		s.logger.ErrorContext(ctx, "failed to persist consent", "error", err)
		return
	}
	s.metrics.incSaves()
	s.logger.DebugContext(ctx, "consent saved",
		"categories", len(merged),
		"version", version,
		"expires_at", expiresAt,
	)
}

// LoadValid returns the stored flags when the record is unexpired and was
// saved under version. Any other stored record is purged.
func (s *Store) LoadValid(ctx context.Context, version string) (map[string]bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.read(ctx)
	if record == nil {
		s.clear(ctx, "")
		return nil, false
	}

	now := s.now()
	if record.IsExpired(now) {
		s.clear(ctx, purgeExpired)
		return nil, false
	}
	if record.Version != version {
		s.clear(ctx, purgeVersionMismatch)
		return nil, false
	}
	return cloneFlags(record.Flags), true
}

// Get returns the stored decision for category, false when unknown.
func (s *Store) Get(ctx context.Context, category string) bool {
	return s.GetAll(ctx)[category]
}

// GetMany returns a decision for every requested category, defaulting to false.
func (s *Store) GetMany(ctx context.Context, categories []string) map[string]bool {
	all := s.GetAll(ctx)
	out := make(map[string]bool, len(categories))
	for _, category := range categories {
		out[category] = all[category]
	}
	return out
}

// GetAll returns every stored decision. An expired record is purged and
// reads as empty. The result is never nil.
func (s *Store) GetAll(ctx context.Context) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.read(ctx)
	if record == nil {
		return map[string]bool{}
	}
	if record.IsExpired(s.now()) {
		s.clear(ctx, purgeExpired)
		return map[string]bool{}
	}
	return cloneFlags(record.Flags)
}

func (s *Store) read(ctx context.Context) *Record {
	record, err := s.backend.Read(ctx)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.incBackendFailure("read")
			s.logger.ErrorContext(ctx, "failed to read consent", "error", err)
		}
		return nil
	}
	return record
}

// clear purges all three fields. reason is empty when nothing readable was
// stored, which still clears any partial leftovers.
func (s *Store) clear(ctx context.Context, reason string) {
	if err := s.backend.Clear(ctx); err != nil {
		s.metrics.incBackendFailure("clear")
		s.logger.ErrorContext(ctx, "failed to purge consent", "error", err)
		return
	}
	if reason != "" {
		s.metrics.incPurges(reason)
		s.logger.InfoContext(ctx, "stored consent purged", "reason", reason)
	}
}
