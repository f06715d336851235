package models

import "time"

// QueueStatus is the lifecycle state of a commit queue item.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// QueueItem is a durable commit-and-push request.
// A nil FilePath means all changes in the working directory.
type QueueItem struct {
	ID          int64       `json:"id"`
	FolderName  string      `json:"folder_name"`
	Message     string      `json:"message"`
	FilePath    *string     `json:"file_path,omitempty"`
	Status      QueueStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}
