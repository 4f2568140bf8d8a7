// Package store implements the persistent mandate store (spec.md §4.B):
// CRUD over principals, authority policies, execution mandates, and the
// append-only ledger, backed by PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
)

// Store is the Postgres-backed implementation of the mandate store.
type Store struct {
	db *sqlx.DB
}

// Open opens a Postgres connection pool at dsn and verifies it is reachable.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open sqlx handle, used by tests against sqlmock.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isNoRows reports whether err is the store's "not found" sentinel.
func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

func notFound(kind, id string) *apperr.Error {
	return apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s %q not found", kind, id))
}
