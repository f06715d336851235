// Package progress tracks long-running repository operations so that a
// separate caller can poll their state.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/state"
)

// DefaultTTL is how long a snapshot remains visible after its last write.
const DefaultTTL = 5 * time.Minute

// ErrNotFound is returned when a job is unknown or its snapshot has expired.
var ErrNotFound = errors.New("progress not found")

// Store persists progress snapshots.
type Store interface {
	PutProgress(p models.Progress, ttl time.Duration) error
	GetProgress(jobID string, now time.Time) (*models.Progress, error)
	DeleteProgress(jobID string) error
}

// Tracker is the write handle of one job. Each write replaces the stored
// snapshot; no history is kept.
type Tracker struct {
	store Store
	jobID string
	ttl   time.Duration
	now   func() time.Time

	mu   sync.Mutex
	last int
	done bool
}

// New returns a tracker for jobID, generating an id when jobID is empty.
func New(store Store, jobID string) *Tracker {
	if jobID == "" {
		jobID = NewJobID()
	}
	return &Tracker{store: store, jobID: jobID, ttl: DefaultTTL, now: time.Now}
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return "job_" + uuid.NewString()
}

// WithTTL overrides the snapshot lifetime.
func (t *Tracker) WithTTL(ttl time.Duration) *Tracker {
	t.ttl = ttl
	return t
}

// ID returns the job identifier.
func (t *Tracker) ID() string {
	return t.jobID
}

// Update records the current step. The reported percentage never decreases
// within a job.
func (t *Tracker) Update(step models.Step, message string, pct int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pct < t.last {
		pct = t.last
	}
	if pct > 100 {
		pct = 100
	}
	t.last = pct
	return t.write(step, message, pct)
}

// Complete marks the job finished at 100%.
func (t *Tracker) Complete(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = 100
	t.done = true
	return t.write(models.StepCompleted, message, 100)
}

// Error marks the job failed.
func (t *Tracker) Error(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done = true
	return t.write(models.StepError, message, 0)
}

// Done reports whether Complete or Error has been called.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Cleanup removes the snapshot before its TTL runs out.
func (t *Tracker) Cleanup() error {
	return t.store.DeleteProgress(t.jobID)
}

func (t *Tracker) write(step models.Step, message string, pct int) error {
	p := models.Progress{
		JobID:     t.jobID,
		Step:      step,
		Message:   message,
		Progress:  pct,
		Timestamp: t.now(),
	}
	if err := t.store.PutProgress(p, t.ttl); err != nil {
		return fmt.Errorf("record progress for %s: %w", t.jobID, err)
	}
	return nil
}

// Get returns the latest snapshot of jobID.
func Get(store Store, jobID string) (*models.Progress, error) {
	p, err := store.GetProgress(jobID, time.Now())
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
