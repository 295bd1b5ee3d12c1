// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements the persistence gateway on SQLite via
// database/sql and modernc.org/sqlite, with schema migrations applied by
// goose at open time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/lanolabs/authgate/pkg/storage"
)

// txMaxRetries bounds retries of transactions that fail with a transient
// busy/locked error.
const txMaxRetries = 3

// Store implements storage.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at path and applies pending
// migrations. An empty path opens a private in-memory database, which is
// what the tests use.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := "file::memory:"
	if path != "" {
		dsn = "file:" + path
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite permits a single writer; one connection avoids lock thrash
	// and keeps in-memory databases coherent.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity (health probe).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// querier is satisfied by both *sql.DB and *sql.Tx so repositories can run
// in autocommit mode or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository accessors in autocommit mode.

// Clients returns the OAuth client repository.
func (s *Store) Clients() storage.ClientStore { return &clientStore{q: s.db} }

// Codes returns the authorization code repository.
func (s *Store) Codes() storage.CodeStore { return &codeStore{q: s.db} }

// Tokens returns the OAuth token repository.
func (s *Store) Tokens() storage.TokenStore { return &tokenStore{q: s.db} }

// Sessions returns the session repository.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{q: s.db} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() storage.APIKeyStore { return &apiKeyStore{q: s.db} }

// Users returns the user account repository.
func (s *Store) Users() storage.UserStore { return &userStore{q: s.db} }

// Events returns the event log repository.
func (s *Store) Events() storage.EventStore { return &eventStore{q: s.db} }

// Outbox returns the outbox repository.
func (s *Store) Outbox() storage.OutboxStore { return &outboxStore{q: s.db} }

// States returns the transient state repository.
func (s *Store) States() storage.StateStore { return &stateStore{q: s.db} }

// Audit returns the audit repository.
func (s *Store) Audit() storage.AuditStore { return &auditStore{q: s.db} }

// tx implements storage.Tx over an open *sql.Tx.
type tx struct {
	t *sql.Tx
}

func (x *tx) Clients() storage.ClientStore   { return &clientStore{q: x.t} }
func (x *tx) Codes() storage.CodeStore       { return &codeStore{q: x.t} }
func (x *tx) Tokens() storage.TokenStore     { return &tokenStore{q: x.t} }
func (x *tx) Sessions() storage.SessionStore { return &sessionStore{q: x.t} }
func (x *tx) APIKeys() storage.APIKeyStore   { return &apiKeyStore{q: x.t} }
func (x *tx) Users() storage.UserStore       { return &userStore{q: x.t} }
func (x *tx) Events() storage.EventStore     { return &eventStore{q: x.t} }
func (x *tx) Outbox() storage.OutboxStore    { return &outboxStore{q: x.t} }
func (x *tx) Audit() storage.AuditStore      { return &auditStore{q: x.t} }

// WithTx runs fn inside a single transaction. Transient busy/locked errors
// roll the transaction back and retry the whole function, up to
// txMaxRetries attempts; all other errors are permanent.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	operation := func() (struct{}, error) {
		err := s.runTx(ctx, fn)
		if err != nil && !isBusy(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 10 * time.Millisecond

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(txMaxRetries),
	)
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(t)

	if err := fn(&tx{t: t}); err != nil {
		return err
	}

	if err := t.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// rollback rolls back t, ignoring errors (t may already be committed).
func rollback(t *sql.Tx) { _ = t.Rollback() }

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// isBusy checks for a transient lock contention error.
func isBusy(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
	}
	return false
}

// Timestamps are stored as RFC3339Nano UTC strings.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// String slices and metadata maps are stored as JSON text.

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data), nil
}

func decodeStrings(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var result []string
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON: %w", err)
	}
	return result, nil
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data), nil
}

func decodeMap(data string) (map[string]any, error) {
	if data == "" {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON: %w", err)
	}
	return result, nil
}
