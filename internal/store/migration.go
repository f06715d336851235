package store

import "fmt"

const currentSchemaVersion = 3

// RunMigrations applies any pending database migrations. An empty database
// is initialized with the current schema.
func (s *Store) RunMigrations() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == 0 {
		return s.Initialize()
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}

	if version < 3 {
		if err := s.migrateToV3(); err != nil {
			return fmt.Errorf("migration to v3 failed: %w", err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version. A database holding
// only the legacy repositories table is v1, an empty one is 0.
func (s *Store) getSchemaVersion() (int, error) {
	if !s.tableExists("schema_version") {
		if s.tableExists("repositories") {
			return 1, nil
		}
		return 0, nil
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 1) FROM schema_version").Scan(&version)
	if err != nil {
		return 1, nil
	}

	return version, nil
}

func (s *Store) tableExists(name string) bool {
	var tableName string
	err := s.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name=?
	`, name).Scan(&tableName)
	return err == nil
}

// columnExists checks if a column exists in a table
func (s *Store) columnExists(table, column string) bool {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&count)
	return err == nil && count > 0
}

// migrateToV2 rebuilds repositories with the portable folder_name column and
// a nullable local_path. Existing rows keep their absolute local_path until
// BackfillFolderNames is run.
func (s *Store) migrateToV2() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}

	// Legacy tables declare local_path NOT NULL UNIQUE, which rejects rows
	// keyed by folder name. SQLite cannot drop a constraint in place.
	folderExpr := "NULL"
	if s.columnExists("repositories", "folder_name") {
		folderExpr = "folder_name"
	}
	typeExpr := "'theme'"
	if s.columnExists("repositories", "repo_type") {
		typeExpr = "COALESCE(repo_type, 'theme')"
	}
	branchExpr := "'main'"
	if s.columnExists("repositories", "current_branch") {
		branchExpr = "COALESCE(current_branch, 'main')"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	migrations := []string{
		`CREATE TABLE repositories_v2 (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_name TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			local_path TEXT,
			folder_name TEXT,
			current_branch TEXT NOT NULL DEFAULT 'main',
			repo_type TEXT NOT NULL DEFAULT 'theme',
			last_update DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`INSERT INTO repositories_v2
			(id, repo_name, repo_url, local_path, folder_name, current_branch, repo_type, last_update, created_at)
		SELECT id, repo_name, repo_url, local_path, ` + folderExpr + `, ` + branchExpr + `, ` + typeExpr + `,
			last_update, created_at
		FROM repositories`,
		`DROP TABLE repositories`,
		`ALTER TABLE repositories_v2 RENAME TO repositories`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_repositories_folder
			ON repositories(repo_type, folder_name) WHERE folder_name IS NOT NULL AND folder_name != ''`,
		`CREATE INDEX IF NOT EXISTS idx_repositories_local_path ON repositories(local_path)`,
	}
	for _, migration := range migrations {
		if _, err := tx.Exec(migration); err != nil {
			return err
		}
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 2); err != nil {
		return err
	}
	return tx.Commit()
}

// migrateToV3 adds the commit queue
func (s *Store) migrateToV3() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS commit_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			folder_name TEXT NOT NULL,
			commit_message TEXT NOT NULL,
			file_path TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			processed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commit_queue_status ON commit_queue(status)`,
		`CREATE INDEX IF NOT EXISTS idx_commit_queue_created ON commit_queue(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	_, err := s.db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 3)
	return err
}

// SchemaVersion reports the recorded schema version.
func (s *Store) SchemaVersion() (int, error) {
	return s.getSchemaVersion()
}
