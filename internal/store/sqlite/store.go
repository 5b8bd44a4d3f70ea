// Package sqlite implements the registration journal backed by a SQLite
// database. The journal remembers which remote registrations this host
// created so that leftovers from a crashed run can be listed and purged.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultMaxOpenConns = 4
const defaultMaxIdleConns = 4

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Store wraps a SQLite database connection for journal operations.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if dir := journalDir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=synchronous(normal)")
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(min(maxIdleConns, maxOpenConns))

	// journal_mode and busy_timeout are database-wide.
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}
	s := &Store{db: db, now: time.Now}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS registrations (
	resource TEXT NOT NULL,
	id TEXT NOT NULL,
	identity TEXT NOT NULL,
	url TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	deleted_at DATETIME NULL,
	PRIMARY KEY (resource, id)
);
CREATE INDEX IF NOT EXISTS idx_registrations_deleted_at ON registrations(deleted_at);
CREATE INDEX IF NOT EXISTS idx_registrations_identity ON registrations(identity);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// journalDir returns the directory to create for a file-backed path, or ""
// for in-memory and URI paths.
func journalDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}
