package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const repositoryColumns = `id, repo_name, repo_url, COALESCE(local_path, ''), COALESCE(folder_name, ''),
	COALESCE(current_branch, ''), repo_type, COALESCE(last_update, ''), COALESCE(created_at, '')`

// InsertRepository records a newly installed repository and sets repo.ID.
func (s *Store) InsertRepository(repo *models.Repository) error {
	if repo.FolderName == "" {
		return fmt.Errorf("folder name cannot be empty")
	}
	now := time.Now()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	if repo.LastUpdate.IsZero() {
		repo.LastUpdate = now
	}

	res, err := s.db.Exec(`
		INSERT INTO repositories (repo_name, repo_url, folder_name, current_branch, repo_type, last_update, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		repo.Name, repo.URL, repo.FolderName, repo.CurrentBranch, string(repo.Type),
		formatTimestamp(repo.LastUpdate), formatTimestamp(repo.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("repository '%s' is already registered", repo.FolderName)
		}
		return fmt.Errorf("insert repository: %w", err)
	}

	repo.ID, err = res.LastInsertId()
	return err
}

// GetRepositoryByFolder looks a repository up by its folder name. An empty
// repoType matches either type, themes first.
func (s *Store) GetRepositoryByFolder(folder string, repoType models.RepoType) (*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE folder_name = ?`
	args := []any{folder}
	if repoType != "" {
		query += ` AND repo_type = ?`
		args = append(args, string(repoType))
	}
	query += ` ORDER BY CASE repo_type WHEN 'theme' THEN 0 ELSE 1 END LIMIT 1`

	return scanRepository(s.db.QueryRow(query, args...))
}

// GetRepositoryByLocalPath looks up a legacy row by its stored absolute path.
func (s *Store) GetRepositoryByLocalPath(path string) (*models.Repository, error) {
	return scanRepository(s.db.QueryRow(
		`SELECT `+repositoryColumns+` FROM repositories WHERE local_path = ? LIMIT 1`, path))
}

// ListRepositories returns every repository, newest first.
func (s *Store) ListRepositories() ([]*models.Repository, error) {
	rows, err := s.db.Query(`SELECT ` + repositoryColumns + ` FROM repositories ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// UpdateRepositoryBranch records the checked-out branch and bumps last_update.
func (s *Store) UpdateRepositoryBranch(id int64, branch string) error {
	return s.execOne(`UPDATE repositories SET current_branch = ?, last_update = ? WHERE id = ?`,
		branch, formatTimestamp(time.Now()), id)
}

// TouchRepository bumps last_update.
func (s *Store) TouchRepository(id int64) error {
	return s.execOne(`UPDATE repositories SET last_update = ? WHERE id = ?`, formatTimestamp(time.Now()), id)
}

// SetRepositoryFolder stores the folder name of a legacy row.
func (s *Store) SetRepositoryFolder(id int64, folder string) error {
	return s.execOne(`UPDATE repositories SET folder_name = ? WHERE id = ?`, folder, id)
}

// DeleteRepository removes a registry row.
func (s *Store) DeleteRepository(id int64) error {
	return s.execOne(`DELETE FROM repositories WHERE id = ?`, id)
}

// BackfillFolderNames derives folder_name from local_path for rows that
// predate the column. It returns the number of rows updated.
func (s *Store) BackfillFolderNames() (int, error) {
	rows, err := s.db.Query(`
		SELECT id, local_path FROM repositories
		WHERE (folder_name IS NULL OR folder_name = '') AND local_path IS NOT NULL AND local_path != ''`)
	if err != nil {
		return 0, err
	}

	type legacyRow struct {
		id   int64
		path string
	}
	var pending []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.path); err != nil {
			rows.Close()
			return 0, err
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	for _, r := range pending {
		folder := filepath.Base(filepath.Clean(r.path))
		if folder == "." || folder == string(filepath.Separator) {
			continue
		}
		if err := s.SetRepositoryFolder(r.id, folder); err != nil {
			return updated, fmt.Errorf("backfill repository %d: %w", r.id, err)
		}
		updated++
	}
	return updated, nil
}

// RepoStats counts installed repositories by type.
func (s *Store) RepoStats() (*models.RepoStats, error) {
	var stats models.RepoStats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN repo_type = 'theme' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN repo_type = 'plugin' THEN 1 ELSE 0 END), 0)
		FROM repositories`).Scan(&stats.Total, &stats.Themes, &stats.Plugins)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*models.Repository, error) {
	var repo models.Repository
	var repoType, lastUpdate, createdAt string

	err := row.Scan(&repo.ID, &repo.Name, &repo.URL, &repo.LocalPath, &repo.FolderName,
		&repo.CurrentBranch, &repoType, &lastUpdate, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	repo.Type = models.RepoType(repoType)
	repo.LastUpdate = parseTimestamp(lastUpdate)
	repo.CreatedAt = parseTimestamp(createdAt)
	return &repo, nil
}

// execOne runs a single-row write and reports ErrNotFound when nothing matched.
func (s *Store) execOne(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
