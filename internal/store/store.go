package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/evreplay/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - meta rows for origin and record_version
const currentSchemaVersion = 1

const (
	metaOrigin        = "origin"
	metaRecordVersion = "record_version"
)

// Store provides durable storage for the event log and its snapshot.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db   *sql.DB
	path string
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
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

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Flush forces every committed event into the main database file.
//
// Commits are already synchronous; Flush additionally runs a full WAL
// checkpoint so a restart that loses the -wal file still observes every
// acknowledged event. A busy checkpoint is a durability failure.
func (s *Store) Flush(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(FULL)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return ir.NewDurabilityFailure("flush: checkpoint failed", err)
	}
	if busy != 0 {
		return ir.NewDurabilityFailure(
			fmt.Sprintf("flush: checkpoint incomplete (%d of %d frames)", checkpointed, logFrames), nil)
	}
	return nil
}

// Origin returns the first sequence still present in (or next appended to)
// the log. It is 0 until Compact advances it.
func (s *Store) Origin(ctx context.Context) (uint64, error) {
	return readOrigin(ctx, s.db)
}

// NextSequence returns the sequence the next Append will be assigned.
func (s *Store) NextSequence(ctx context.Context) (uint64, error) {
	return nextSequence(ctx, s.db)
}

func readOrigin(ctx context.Context, q queryer) (uint64, error) {
	var origin int64
	err := q.QueryRowContext(ctx, "SELECT CAST(value AS INTEGER) FROM meta WHERE key = ?", metaOrigin).Scan(&origin)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read origin: %w", err)
	}
	return uint64(origin), nil
}

func nextSequence(ctx context.Context, q queryer) (uint64, error) {
	var maxSeq sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT MAX(seq) FROM events").Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	if maxSeq.Valid {
		return uint64(maxSeq.Int64) + 1, nil
	}
	return readOrigin(ctx, q)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
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
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 seeds the meta rows. INSERT OR IGNORE keeps an existing origin.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO meta (key, value) VALUES (?, '0'), (?, ?)
	`, metaOrigin, metaRecordVersion, ir.RecordVersion)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// RecordVersion returns the row layout version recorded when the database
// was created.
func (s *Store) RecordVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaRecordVersion).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("read record version: %w", err)
	}
	return v, nil
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
