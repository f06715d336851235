package progress

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	return st
}

func TestTracker_GeneratesID(t *testing.T) {
	st := newTestState(t)

	a := New(st, "")
	b := New(st, "")
	assert.True(t, strings.HasPrefix(a.ID(), "job_"))
	assert.NotEqual(t, a.ID(), b.ID())

	c := New(st, "job_custom")
	assert.Equal(t, "job_custom", c.ID())
}

func TestTracker_UpdateAndComplete(t *testing.T) {
	st := newTestState(t)
	tr := New(st, "job_1")

	require.NoError(t, tr.Update(models.StepValidating, "Validating", 10))
	p, err := Get(st, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.StepValidating, p.Step)
	assert.Equal(t, 10, p.Progress)

	require.NoError(t, tr.Update(models.StepDownloading, "Downloading", 30))
	require.NoError(t, tr.Complete("Done"))

	p, err = Get(st, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, p.Step)
	assert.Equal(t, 100, p.Progress)
	assert.Equal(t, "Done", p.Message)
	assert.True(t, tr.Done())
}

func TestTracker_ProgressNeverDecreases(t *testing.T) {
	st := newTestState(t)
	tr := New(st, "job_1")

	require.NoError(t, tr.Update(models.StepConfiguring, "Configuring", 70))
	require.NoError(t, tr.Update(models.StepSaving, "Saving", 50))

	p, err := Get(st, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.StepSaving, p.Step)
	assert.Equal(t, 70, p.Progress)
}

func TestTracker_Error(t *testing.T) {
	st := newTestState(t)
	tr := New(st, "job_1")

	require.NoError(t, tr.Update(models.StepDownloading, "Downloading", 30))
	require.NoError(t, tr.Error("Clone failed: boom"))

	p, err := Get(st, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.StepError, p.Step)
	assert.Equal(t, "Clone failed: boom", p.Message)
}

func TestTracker_Expiry(t *testing.T) {
	st := newTestState(t)
	tr := New(st, "job_1").WithTTL(time.Minute)
	tr.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	require.NoError(t, tr.Complete("Done"))

	_, err := Get(st, "job_1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Get(st, "never")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTracker_Cleanup(t *testing.T) {
	st := newTestState(t)
	tr := New(st, "job_1")

	require.NoError(t, tr.Update(models.StepValidating, "Validating", 10))
	require.NoError(t, tr.Cleanup())

	_, err := Get(st, "job_1")
	assert.ErrorIs(t, err, ErrNotFound)
}
