// Package queue records commit-and-push requests durably and retries them
// a bounded number of times.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/store"
)

// DefaultMaxAttempts is the number of failed attempts after which an item
// is marked failed and no longer retried automatically.
const DefaultMaxAttempts = 3

var (
	ErrItemNotFound     = errors.New("queue item not found")
	ErrAlreadyCompleted = errors.New("queue item already completed")
	// ErrInProgress is returned when another caller is already attempting
	// the item.
	ErrInProgress = errors.New("queue item is already being processed")
)

// Committer performs the commit-and-push of one request.
type Committer interface {
	CommitAndPush(ctx context.Context, identifier, message string, filePath *string, token string) backend.Result
}

// Queue is the commit queue.
type Queue struct {
	store       *store.Store
	committer   Committer
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// New returns a queue that commits through c.
func New(st *store.Store, c Committer, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:       st,
		committer:   c,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
		now:         time.Now,
		inflight:    make(map[int64]struct{}),
	}
}

// WithMaxAttempts overrides the attempt ceiling.
func (q *Queue) WithMaxAttempts(n int) *Queue {
	if n > 0 {
		q.maxAttempts = n
	}
	return q
}

// Enqueue records a pending request and attempts it once immediately. The
// item is returned in its post-attempt state; a failed attempt is not an
// error since the item stays eligible for retry.
func (q *Queue) Enqueue(ctx context.Context, identifier, message string, filePath *string) (*models.QueueItem, backend.Result, error) {
	if identifier == "" {
		return nil, backend.Result{}, fmt.Errorf("repository identifier is required")
	}

	// The new item is claimed before it becomes visible to a sweep.
	item := &models.QueueItem{FolderName: identifier, Message: message, FilePath: filePath}
	q.mu.Lock()
	if err := q.store.InsertQueueItem(item); err != nil {
		q.mu.Unlock()
		return nil, backend.Result{}, err
	}
	q.inflight[item.ID] = struct{}{}
	q.mu.Unlock()
	q.logger.Info("commit queued", zap.Int64("id", item.ID), zap.String("repository", identifier))

	res, err := q.attempt(ctx, item.ID)
	q.release(item.ID)
	if err != nil {
		return nil, res, err
	}
	updated, err := q.Get(item.ID)
	if err != nil {
		return nil, res, err
	}
	return updated, res, nil
}

// Process attempts one item. The attempt counter is bumped before the push
// so that an interrupted attempt still counts. Completed items are rejected,
// as are items another caller is attempting. A push refused because the
// repository is locked does not count as an attempt.
func (q *Queue) Process(ctx context.Context, id int64) (backend.Result, error) {
	if !q.claim(id) {
		return backend.Result{}, fmt.Errorf("item %d: %w", id, ErrInProgress)
	}
	defer q.release(id)
	return q.attempt(ctx, id)
}

// attempt runs one push for a claimed item.
func (q *Queue) attempt(ctx context.Context, id int64) (backend.Result, error) {
	item, err := q.Get(id)
	if err != nil {
		return backend.Result{}, err
	}
	if item.Status == models.QueueCompleted {
		return backend.Result{}, fmt.Errorf("item %d: %w", id, ErrAlreadyCompleted)
	}

	attempts, err := q.store.IncrementQueueAttempts(id)
	if err != nil {
		return backend.Result{}, fmt.Errorf("record attempt: %w", err)
	}

	res := q.committer.CommitAndPush(ctx, item.FolderName, item.Message, item.FilePath, "")
	if res.Success {
		if err := q.store.MarkQueueCompleted(id, q.now()); err != nil {
			return res, fmt.Errorf("mark completed: %w", err)
		}
		q.logger.Info("queued commit completed", zap.Int64("id", id), zap.Int("attempts", attempts))
		return res, nil
	}

	if res.Busy() {
		if err := q.store.RestoreQueueAttempt(id, res.Error); err != nil {
			return res, fmt.Errorf("restore attempt: %w", err)
		}
		q.logger.Info("queued commit deferred, repository busy",
			zap.Int64("id", id), zap.String("repository", item.FolderName))
		return res, nil
	}

	status := models.QueuePending
	if attempts >= q.maxAttempts {
		status = models.QueueFailed
	}
	if err := q.store.MarkQueueFailure(id, status, res.Error); err != nil {
		return res, fmt.Errorf("record failure: %w", err)
	}
	q.logger.Warn("queued commit failed",
		zap.Int64("id", id),
		zap.Int("attempts", attempts),
		zap.String("status", string(status)),
		zap.String("error", res.Error),
	)
	return res, nil
}

func (q *Queue) claim(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.inflight[id]; busy {
		return false
	}
	q.inflight[id] = struct{}{}
	return true
}

func (q *Queue) release(id int64) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

// Retry is a manual Process of one item.
func (q *Queue) Retry(ctx context.Context, id int64) (backend.Result, error) {
	return q.Process(ctx, id)
}

// ProcessPending attempts every pending item, oldest first. Failed items and
// items already being attempted elsewhere are left alone. It returns how many
// items were attempted and how many landed.
func (q *Queue) ProcessPending(ctx context.Context) (attempted, succeeded int, err error) {
	ids, err := q.store.ListPendingQueueIDs()
	if err != nil {
		return 0, 0, fmt.Errorf("list pending items: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return attempted, succeeded, err
		}
		res, err := q.Process(ctx, id)
		if errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrAlreadyCompleted) || errors.Is(err, ErrInProgress) {
			continue
		}
		if err != nil {
			return attempted, succeeded, err
		}
		attempted++
		if res.Success {
			succeeded++
		}
	}
	return attempted, succeeded, nil
}

// BulkDelete removes items regardless of status.
func (q *Queue) BulkDelete(ids []int64) (int, error) {
	return q.store.DeleteQueueItems(ids)
}

// List returns items with status, or all items when status is empty.
func (q *Queue) List(status models.QueueStatus) ([]*models.QueueItem, error) {
	return q.store.ListQueueItems(status)
}

// Get returns one item.
func (q *Queue) Get(id int64) (*models.QueueItem, error) {
	item, err := q.store.GetQueueItem(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("item %d: %w", id, ErrItemNotFound)
	}
	return item, err
}
