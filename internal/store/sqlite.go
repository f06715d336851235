// Package store provides SQLite-based persistence for repodeploy.
// It holds the repository registry and the commit queue.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store represents the SQLite database store
type Store struct {
	db *sql.DB
}

// New creates a new store connection
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
	-- Installed repositories, keyed by (repo_type, folder_name)
	CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_name TEXT NOT NULL,
		repo_url TEXT NOT NULL,
		local_path TEXT,
		folder_name TEXT,
		current_branch TEXT NOT NULL DEFAULT 'main',
		repo_type TEXT NOT NULL DEFAULT 'theme',
		last_update DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Pending commit-and-push requests
	CREATE TABLE IF NOT EXISTS commit_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		folder_name TEXT NOT NULL,
		commit_message TEXT NOT NULL,
		file_path TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_repositories_folder
		ON repositories(repo_type, folder_name) WHERE folder_name IS NOT NULL AND folder_name != '';
	CREATE INDEX IF NOT EXISTS idx_repositories_local_path ON repositories(local_path);
	CREATE INDEX IF NOT EXISTS idx_commit_queue_status ON commit_queue(status);
	CREATE INDEX IF NOT EXISTS idx_commit_queue_created ON commit_queue(created_at);
	`

// Initialize creates the database schema
func (s *Store) Initialize() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Mark as current schema version
	_, err := s.db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// DB returns the underlying database connection for advanced queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// timestampLayout is fixed-width and UTC so stored values sort lexically,
// matching CURRENT_TIMESTAMP.
const timestampLayout = "2006-01-02 15:04:05.000000000"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp parses a timestamp string from SQLite in various formats
func parseTimestamp(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
