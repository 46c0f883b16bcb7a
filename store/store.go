// Package store provides the relational persistence layer: reference
// identity, raw documents, extracted instance tables, notifications, proofs,
// collections, and local credentials. SQLite with WAL mode; a fresh
// in-memory database serves tests.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - initial schema
const currentSchemaVersion = 1

// Store wraps the SQLite database. All timestamps are stored as unix
// seconds in UTC so comparisons inside SQL stay trivial.
type Store struct {
	db           *sql.DB
	clock        clockwork.Clock
	logger       *slog.Logger
	localDomains map[string]bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock substitutes the time source, used by tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithLocalDomains declares the URI authorities this node owns. References
// created for these domains are marked local.
func WithLocalDomains(domains []string) Option {
	return func(s *Store) {
		for _, d := range domains {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				s.localDomains[d] = true
			}
		}
	}
}

// Open creates or opens the database at path (":memory:" for tests),
// applies pragmas and the schema, and runs migrations. Idempotent.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:           db,
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
		localDomains: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for queries the typed methods do not
// cover. Prefer the typed methods.
func (s *Store) DB() *sql.DB { return s.db }

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	// No incremental migrations yet; stamp the current version.
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// unix converts a time to its stored form.
func unix(t time.Time) int64 { return t.UTC().Unix() }

// unixPtr converts an optional time to its stored form.
func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unix(*t)
}

// timeAt converts a stored unix value back to UTC time.
func timeAt(v int64) time.Time { return time.Unix(v, 0).UTC() }

// timePtr converts a nullable stored value back to an optional time.
func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := timeAt(v.Int64)
	return &t
}

// refIDPtr converts a nullable stored value to an optional ReferenceID.
func refIDPtr(v sql.NullInt64) *ReferenceID {
	if !v.Valid {
		return nil
	}
	id := ReferenceID(v.Int64)
	return &id
}

// nullableRefID converts an optional ReferenceID to its stored form.
func nullableRefID(id *ReferenceID) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
