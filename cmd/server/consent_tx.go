package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"enforce/internal/consent"
	txcontext "enforce/pkg/platform/tx"
)

const defaultConsentTxTimeout = 5 * time.Second

// consentPostgresTx runs backend writes inside a bounded transaction.
type consentPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newConsentPostgresTx(db *sql.DB) *consentPostgresTx {
	return &consentPostgresTx{db: db, timeout: defaultConsentTxTimeout}
}

func (t *consentPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin consent tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consent tx: %w", err)
	}
	return nil
}

// txBackend wraps writes and purges of the postgres backend in RunInTx.
type txBackend struct {
	*consent.PostgresBackend
	tx *consentPostgresTx
}

func (b txBackend) Write(ctx context.Context, record consent.Record) error {
	return b.tx.RunInTx(ctx, func(ctx context.Context) error {
		return b.PostgresBackend.Write(ctx, record)
	})
}

func (b txBackend) Clear(ctx context.Context) error {
	return b.tx.RunInTx(ctx, func(ctx context.Context) error {
		return b.PostgresBackend.Clear(ctx)
	})
}
