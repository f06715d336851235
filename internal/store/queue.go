package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

const queueColumns = `id, folder_name, commit_message, file_path, status, attempts,
	COALESCE(last_error, ''), COALESCE(created_at, ''), processed_at`

// InsertQueueItem adds a pending commit request and sets item.ID.
func (s *Store) InsertQueueItem(item *models.QueueItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.Status = models.QueuePending

	var filePath sql.NullString
	if item.FilePath != nil {
		filePath = sql.NullString{String: *item.FilePath, Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO commit_queue (folder_name, commit_message, file_path, status, attempts, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		item.FolderName, item.Message, filePath, string(item.Status), formatTimestamp(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}

	item.ID, err = res.LastInsertId()
	return err
}

// GetQueueItem returns a queue item by id.
func (s *Store) GetQueueItem(id int64) (*models.QueueItem, error) {
	return scanQueueItem(s.db.QueryRow(`SELECT `+queueColumns+` FROM commit_queue WHERE id = ?`, id))
}

// ListQueueItems returns queue items, newest first. An empty status lists all.
func (s *Store) ListQueueItems(status models.QueueStatus) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM commit_queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListPendingQueueIDs returns the ids of pending items, oldest first.
func (s *Store) ListPendingQueueIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT id FROM commit_queue WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(models.QueuePending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IncrementQueueAttempts bumps the attempt counter and returns the new value.
func (s *Store) IncrementQueueAttempts(id int64) (int, error) {
	if err := s.execOne(`UPDATE commit_queue SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return 0, err
	}
	var attempts int
	if err := s.db.QueryRow(`SELECT attempts FROM commit_queue WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

// RestoreQueueAttempt undoes an IncrementQueueAttempts for an attempt that
// never ran, leaving status unchanged and recording reason as last_error.
func (s *Store) RestoreQueueAttempt(id int64, reason string) error {
	return s.execOne(`UPDATE commit_queue SET attempts = MAX(attempts - 1, 0), last_error = ? WHERE id = ?`,
		reason, id)
}

// MarkQueueCompleted marks an item completed and stamps processed_at.
func (s *Store) MarkQueueCompleted(id int64, at time.Time) error {
	return s.execOne(`UPDATE commit_queue SET status = ?, processed_at = ?, last_error = NULL WHERE id = ?`,
		string(models.QueueCompleted), formatTimestamp(at), id)
}

// MarkQueueFailure records a failed attempt with the resulting status.
func (s *Store) MarkQueueFailure(id int64, status models.QueueStatus, lastError string) error {
	return s.execOne(`UPDATE commit_queue SET status = ?, last_error = ? WHERE id = ?`,
		string(status), lastError, id)
}

// DeleteQueueItems removes the given items regardless of status and returns
// the number of rows deleted.
func (s *Store) DeleteQueueItems(ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	res, err := s.db.Exec(`DELETE FROM commit_queue WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete queue items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var filePath, processedAt sql.NullString
	var status, createdAt string

	err := row.Scan(&item.ID, &item.FolderName, &item.Message, &filePath, &status,
		&item.Attempts, &item.LastError, &createdAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	item.Status = models.QueueStatus(status)
	item.CreatedAt = parseTimestamp(createdAt)
	if filePath.Valid {
		fp := filePath.String
		item.FilePath = &fp
	}
	if processedAt.Valid && processedAt.String != "" {
		t := parseTimestamp(processedAt.String)
		item.ProcessedAt = &t
	}
	return &item, nil
}
