// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/bindctl/internal/errors"
	"grimm.is/bindctl/internal/logging"
)

// Store handles persistence of the authoritative data model to SQLite.
// All arrays are stored as JSON text columns; aggregate roots carry a
// version counter for optimistic concurrency.
type Store struct {
	db      *sql.DB
	logger  *logging.Logger
	timeout time.Duration
}

// Open opens or creates the database and runs migrations. Migration failure
// is fatal to the caller.
func Open(path string, timeout time.Duration, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("store")
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// SQLite allows a single writer; serialize access through one connection
	// to avoid SQLITE_BUSY under concurrent transactions.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, timeout: timeout}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx wraps a transaction with the store's query helpers.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction bounded by the store timeout. The
// transaction is rolled back if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBErr(err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDBErr(err)
	}
	return nil
}

// View is WithTx under a clearer name for read-only multi-table snapshots
// (renderer inputs in particular need a consistent view).
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return s.WithTx(ctx, fn)
}

// wrapDBErr classifies driver errors. Context expiry and connection loss
// surface as unavailable so API callers can retry.
func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return errors.Wrap(err, errors.KindNotFound, "not found")
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return errors.Wrap(err, errors.KindUnavailable, "store unavailable")
	}
	return errors.Wrap(err, errors.KindUnavailable, "store error")
}

// ListOpts controls pagination and ordering of list queries.
type ListOpts struct {
	Limit   int
	Offset  int
	OrderBy string // whitelisted per query
	Desc    bool
}

func (o ListOpts) clause(allowed map[string]string, def string) string {
	col := def
	if mapped, ok := allowed[o.OrderBy]; ok {
		col = mapped
	}
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	limit := o.Limit
	if limit <= 0 {
		limit = 500
	}
	return fmt.Sprintf(" ORDER BY %s %s LIMIT %d OFFSET %d", col, dir, limit, o.Offset)
}
