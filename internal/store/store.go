// Package store provides the embedded SQLite mirror of the remote
// attendance service.
//
// The store holds one table per mirrored entity plus the sync status
// ledger. Every mirrored row carries the sync metadata columns
// (created_at, updated_at, last_synced_at, is_dirty); everything else
// in the engine reads and writes through this package.
//
// The database runs in WAL mode so a UI poller reading pending counts
// stays safe against an in-flight push mutating rows: dirty clears and
// identifier rewrites are single transactions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SchemaVersion is the schema generation this build understands. The
// one-time migration runner records the applied version in the secure
// small-value store; Open refuses to run against a newer schema.
const SchemaVersion = 1

// ErrSchemaTooNew is returned by Open when the on-disk schema was
// migrated by a newer build than this one.
var ErrSchemaTooNew = errors.New("local store schema is newer than this build")

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("row not found")

// Store wraps the SQLite connection with attendance-mirror operations.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	logger           *log.Logger
	migrationVersion int
}

// WithLogger sets the logger used for store warnings.
func WithLogger(l *log.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// WithMigrationVersion supplies the last-applied schema migration
// version read from the secure small-value store. Open fails with
// ErrSchemaTooNew if it exceeds SchemaVersion.
func WithMigrationVersion(v int) Option {
	return func(c *openConfig) { c.migrationVersion = v }
}

// Open creates or opens the mirror database at path.
//
// The database is opened in WAL mode with a busy timeout so concurrent
// readers (pending-count polls) are safe during a sync. The schema is
// created if missing, and any row left behind by an interrupted
// identifier rewrite is re-marked dirty so the next push resubmits it.
//
// The caller MUST call Close when done.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := &openConfig{
		logger:           log.New(os.Stderr, "[store] ", log.LstdFlags),
		migrationVersion: SchemaVersion,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.migrationVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: store at v%d, build supports v%d",
			ErrSchemaTooNew, cfg.migrationVersion, SchemaVersion)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, logger: cfg.logger}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := s.recoverInterruptedRewrites(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection. Used by the backup
// exporter and by tests that inspect rows directly.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates all mirror tables and indexes if they don't
// exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT,
		is_dirty INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		subject_id TEXT,
		role TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT,
		is_dirty INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		grade TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT,
		is_dirty INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		roll_number TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT,
		is_dirty INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT,
		is_dirty INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS teacher_attendance (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		remarks TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT,
		is_dirty INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS student_attendance (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		subject_id TEXT,
		identity_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		remarks TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT,
		is_dirty INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		table_group TEXT PRIMARY KEY,
		last_synced_at TEXT,
		last_error TEXT,
		synced_count INTEGER NOT NULL DEFAULT 0
	);

	-- Indexes for dirty-row enumeration and ownership queries
	CREATE INDEX IF NOT EXISTS idx_teacher_att_dirty ON teacher_attendance(is_dirty);
	CREATE INDEX IF NOT EXISTS idx_student_att_dirty ON student_attendance(is_dirty);
	CREATE INDEX IF NOT EXISTS idx_teacher_att_identity ON teacher_attendance(identity_id, date);
	CREATE INDEX IF NOT EXISTS idx_student_att_identity ON student_attendance(identity_id);
	CREATE INDEX IF NOT EXISTS idx_student_att_key ON student_attendance(student_id, subject_id, date);
	CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_identity ON assignments(identity_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// recoverInterruptedRewrites re-marks rows that carry a temporary id
// but are flagged clean. That combination can only be produced by an
// identifier rewrite that was interrupted before this build moved the
// rewrite into a single transaction; re-marking makes the next push
// resubmit the row.
func (s *Store) recoverInterruptedRewrites(ctx context.Context) error {
	for _, table := range attendanceTables {
		query := fmt.Sprintf(
			`UPDATE %s SET is_dirty = 1 WHERE substr(id, 1, 6) = 'local_' AND is_dirty = 0`, table)
		res, err := s.conn.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed recovery check on %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Printf("Recovered %d interrupted rewrite(s) in %s", n, table)
		}
	}
	return nil
}

// fmtTime renders a timestamp for storage.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// fmtTimePtr renders an optional timestamp for storage.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTime reads a stored timestamp, tolerating empty values.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// parseTimePtr reads an optional stored timestamp.
func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
