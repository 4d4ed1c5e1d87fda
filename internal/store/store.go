package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - positions table and change log
const currentSchemaVersion = 1

// DefaultAuthor is recorded on change-log transactions when no author is set.
const DefaultAuthor = "positions"

// CommitObserver is told about every commit that appended a change-log
// transaction. Committed is called after the SQL transaction commits, from
// the committing goroutine, and must not block.
type CommitObserver interface {
	Committed(token Token)
}

// Store is the local positions store.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db       *sql.DB
	now      func() time.Time
	author   string
	policy   MergePolicy
	observer CommitObserver
	logger   *slog.Logger
	read     *ReadContext
	loaded   Token
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the clock used for committed_at. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithAuthor sets the author recorded on change-log transactions.
func WithAuthor(author string) Option {
	return func(s *Store) {
		s.author = author
	}
}

// WithMergePolicy sets how the ReadContext resolves incoming history against
// pending local edits. Default: MergeIncomingWins.
func WithMergePolicy(p MergePolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithCommitObserver registers the observer signalled after each commit.
func WithCommitObserver(o CommitObserver) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically, then loads the
// ReadContext from the committed rows.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also makes PRAGMA data_version observe only
	// commits made by other connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := newStore(db, opts...)

	// Read the head before the rows: a commit landing between the two is
	// merged again later, which is harmless.
	loaded, err := s.HeadToken(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load read context: %w", err)
	}
	s.loaded = loaded

	records, err := s.ListRecords(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load read context: %w", err)
	}
	s.read = newReadContext(s, records)

	s.logger.Debug("opened store", "path", path, "records", len(records))
	return s, nil
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		now:    time.Now,
		author: DefaultAuthor,
		policy: MergeIncomingWins,
		logger: slog.Default().With("component", "persistence"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops the ReadContext queue and closes the database connection.
func (s *Store) Close() error {
	if s.read != nil {
		s.read.close()
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadedThrough returns the newest token whose effects the ReadContext held
// when the store was opened. Merging may start after it.
func (s *Store) LoadedThrough() Token {
	return s.loaded
}

// ReadContext returns the shared read replica.
func (s *Store) ReadContext() *ReadContext {
	return s.read
}

// MergePolicy returns the configured merge policy.
func (s *Store) MergePolicy() MergePolicy {
	return s.policy
}

// DataVersion returns SQLite's data_version for the store's connection.
// The value changes only when another connection (usually another process)
// commits to the database file.
func (s *Store) DataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query data_version: %w", err)
	}
	return v, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// errSchemaTooNew is returned when the file was written by a newer build.
var errSchemaTooNew = errors.New("database schema is newer than this build")

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("%w: version %d, supported %d", errSchemaTooNew, version, currentSchemaVersion)
	}

	// Version 1 is created in full by schema.sql.

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
