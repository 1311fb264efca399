//go:build integration

package consent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"enforce/internal/consent"
	"enforce/pkg/platform/sentinel"
	txcontext "enforce/pkg/platform/tx"
	"enforce/pkg/testutil/containers"
)

type PostgresBackendSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	backend  *consent.PostgresBackend
}

func TestPostgresBackendSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresBackendSuite))
}

func (s *PostgresBackendSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.backend = consent.NewPostgresBackend(s.postgres.DB, consent.WithStorageKey("device-1"))
	s.Require().NoError(s.backend.EnsureSchema(context.Background()))
}

func (s *PostgresBackendSuite) SetupTest() {
	_, err := s.postgres.DB.Exec(`TRUNCATE consent_state`)
	s.Require().NoError(err)
}

func (s *PostgresBackendSuite) TestWriteReadClear() {
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	s.Require().NoError(s.backend.Write(ctx, consent.Record{
		Flags:     map[string]bool{"Functional": true},
		ExpiresAt: expires,
		Version:   "2",
	}))
	s.Require().NoError(s.backend.Write(ctx, consent.Record{
		Flags:     map[string]bool{"Functional": false},
		ExpiresAt: expires,
		Version:   "3",
	}))

	got, err := s.backend.Read(ctx)
	s.Require().NoError(err)
	s.Equal(map[string]bool{"Functional": false}, got.Flags)
	s.True(got.ExpiresAt.Equal(expires))
	s.Equal("3", got.Version)

	s.Require().NoError(s.backend.Clear(ctx))
	_, err = s.backend.Read(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresBackendSuite) TestRolledBackTransactionPersistsNothing() {
	ctx := context.Background()
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	txCtx := txcontext.WithTx(ctx, tx)
	s.Require().NoError(s.backend.Write(txCtx, consent.Record{
		Flags:     map[string]bool{"A": true},
		ExpiresAt: time.Now().Add(time.Hour),
		Version:   "1",
	}))
	s.Require().NoError(tx.Rollback())

	_, err = s.backend.Read(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
