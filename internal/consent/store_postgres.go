package consent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"enforce/pkg/platform/sentinel"
	txcontext "enforce/pkg/platform/tx"
)

const defaultStorageKey = "default"

const consentSchema = `
CREATE TABLE IF NOT EXISTS consent_state (
	storage_key   TEXT PRIMARY KEY,
	flags         JSONB NOT NULL,
	expires_at_ms BIGINT NOT NULL,
	version       TEXT NOT NULL
)`

// PostgresBackend stores the record as one row, so a write or delete
// changes all three fields in a single statement.
type PostgresBackend struct {
	db  *sql.DB
	key string
}

// PostgresBackendOption configures a PostgresBackend instance.
type PostgresBackendOption func(*PostgresBackend)

// WithStorageKey selects the row used by this backend.
func WithStorageKey(key string) PostgresBackendOption {
	return func(b *PostgresBackend) {
		if key != "" {
			b.key = key
		}
	}
}

// NewPostgresBackend constructs a PostgreSQL-backed consent backend.
func NewPostgresBackend(db *sql.DB, opts ...PostgresBackendOption) *PostgresBackend {
	b := &PostgresBackend{db: db, key: defaultStorageKey}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// executor joins a transaction carried in ctx when there is one.
func (b *PostgresBackend) executor(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return b.db
}

// EnsureSchema creates the consent_state table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, consentSchema); err != nil {
		return fmt.Errorf("create consent schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Read(ctx context.Context) (*Record, error) {
	var (
		rawFlags  []byte
		expiresMs int64
		version   string
	)
	err := b.executor(ctx).QueryRowContext(ctx,
		`SELECT flags, expires_at_ms, version FROM consent_state WHERE storage_key = $1`,
		b.key,
	).Scan(&rawFlags, &expiresMs, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read consent row: %w", err)
	}

	record := &Record{Flags: map[string]bool{}, ExpiresAt: timeFromMillis(expiresMs), Version: version}
	if err := json.Unmarshal(rawFlags, &record.Flags); err != nil {
		return nil, fmt.Errorf("decode consent flags: %w", err)
	}
	return record, nil
}

func (b *PostgresBackend) Write(ctx context.Context, record Record) error {
	flags, err := json.Marshal(cloneFlags(record.Flags))
	if err != nil {
		return fmt.Errorf("encode consent flags: %w", err)
	}
	_, err = b.executor(ctx).ExecContext(ctx, `
		INSERT INTO consent_state (storage_key, flags, expires_at_ms, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (storage_key) DO UPDATE
		SET flags = EXCLUDED.flags,
		    expires_at_ms = EXCLUDED.expires_at_ms,
		    version = EXCLUDED.version`,
		b.key, string(flags), record.ExpiresAt.UnixMilli(), record.Version,
	)
	if err != nil {
		return fmt.Errorf("write consent row: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Clear(ctx context.Context) error {
	if _, err := b.executor(ctx).ExecContext(ctx,
		`DELETE FROM consent_state WHERE storage_key = $1`, b.key); err != nil {
		return fmt.Errorf("clear consent row: %w", err)
	}
	return nil
}
