package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/store"
)

// scriptedCommitter returns its results in order, repeating the last one.
type scriptedCommitter struct {
	mu      sync.Mutex
	results []backend.Result
	calls   []string
}

func (s *scriptedCommitter) CommitAndPush(_ context.Context, identifier, _ string, _ *string, _ string) backend.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, identifier)
	res := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return res
}

var (
	pushOK     = backend.Result{Success: true}
	pushFailed = backend.Result{Error: "GitHub API error (409): sha mismatch"}
)

func newTestQueue(t *testing.T, results ...backend.Result) (*Queue, *scriptedCommitter) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	require.NoError(t, st.RunMigrations())
	t.Cleanup(func() { st.Close() })

	c := &scriptedCommitter{results: results}
	return New(st, c, nil), c
}

func TestEnqueue_SuccessCompletesImmediately(t *testing.T) {
	q, c := newTestQueue(t, pushOK)

	item, res, err := q.Enqueue(context.Background(), "shop", "save", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.QueueCompleted, item.Status)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.ProcessedAt)
	assert.Equal(t, []string{"shop"}, c.calls)
}

func TestEnqueue_FailureStaysPending(t *testing.T) {
	q, _ := newTestQueue(t, pushFailed)

	file := "style.css"
	item, res, err := q.Enqueue(context.Background(), "shop", "save", &file)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.QueuePending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, pushFailed.Error, item.LastError)
	require.NotNil(t, item.FilePath)
	assert.Equal(t, "style.css", *item.FilePath)
}

func TestProcess_TwoFailuresRemainPending(t *testing.T) {
	q, _ := newTestQueue(t, pushFailed)

	item, _, err := q.Enqueue(context.Background(), "shop", "save", nil)
	require.NoError(t, err)
	_, err = q.Process(context.Background(), item.ID)
	require.NoError(t, err)

	got, err := q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestProcess_ThirdFailureIsTerminal(t *testing.T) {
	q, c := newTestQueue(t, pushFailed)

	item, _, err := q.Enqueue(context.Background(), "shop", "save", nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = q.Process(context.Background(), item.ID)
		require.NoError(t, err)
	}

	got, err := q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)

	// Scheduled processing skips failed items.
	attempted, _, err := q.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, attempted)
	assert.Len(t, c.calls, 3)
}

func TestRetry_FailedItemCanSucceed(t *testing.T) {
	q, _ := newTestQueue(t, pushFailed, pushFailed, pushFailed, pushOK)

	item, _, err := q.Enqueue(context.Background(), "shop", "save", nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = q.Process(context.Background(), item.ID)
		require.NoError(t, err)
	}

	res, err := q.Retry(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, got.Status)
	assert.Empty(t, got.LastError)
}

func TestProcess_RejectsCompleted(t *testing.T) {
	q, _ := newTestQueue(t, pushOK)

	item, _, err := q.Enqueue(context.Background(), "shop", "save", nil)
	require.NoError(t, err)

	_, err = q.Process(context.Background(), item.ID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestProcess_UnknownItem(t *testing.T) {
	q, _ := newTestQueue(t, pushOK)
	_, err := q.Process(context.Background(), 42)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestProcessPending(t *testing.T) {
	q, _ := newTestQueue(t, pushFailed, pushFailed, pushOK, pushFailed)

	first, _, err := q.Enqueue(context.Background(), "one", "save", nil)
	require.NoError(t, err)
	second, _, err := q.Enqueue(context.Background(), "two", "save", nil)
	require.NoError(t, err)

	attempted, succeeded, err := q.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, attempted)
	assert.Equal(t, 1, succeeded)

	got, err := q.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, got.Status)

	got, err = q.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

// blockingCommitter holds its first push until release is closed.
type blockingCommitter struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu    sync.Mutex
	calls int
}

func (b *blockingCommitter) CommitAndPush(_ context.Context, _, _ string, _ *string, _ string) backend.Result {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		b.once.Do(func() { close(b.started) })
		<-b.release
	}
	return pushOK
}

func TestProcessPending_SkipsItemBeingEnqueued(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	require.NoError(t, st.RunMigrations())
	t.Cleanup(func() { st.Close() })

	c := &blockingCommitter{started: make(chan struct{}), release: make(chan struct{})}
	q := New(st, c, nil)

	type enqueued struct {
		item *models.QueueItem
		err  error
	}
	done := make(chan enqueued, 1)
	go func() {
		item, _, err := q.Enqueue(context.Background(), "shop", "save", nil)
		done <- enqueued{item, err}
	}()
	<-c.started

	attempted, succeeded, err := q.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, attempted)
	assert.Equal(t, 0, succeeded)

	ids, err := st.ListPendingQueueIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	_, err = q.Retry(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrInProgress)

	close(c.release)
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, models.QueueCompleted, got.item.Status)
	assert.Equal(t, 1, got.item.Attempts)

	c.mu.Lock()
	assert.Equal(t, 1, c.calls)
	c.mu.Unlock()
}

func TestProcess_BusyRepositoryDoesNotCountAttempt(t *testing.T) {
	busy := backend.Result{Error: backend.ErrBusy.Error()}
	q, c := newTestQueue(t, pushFailed, busy, busy, pushOK)

	item, _, err := q.Enqueue(context.Background(), "shop", "save", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempts)

	for i := 0; i < 2; i++ {
		res, err := q.Process(context.Background(), item.ID)
		require.NoError(t, err)
		assert.True(t, res.Busy())
	}

	got, err := q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, backend.ErrBusy.Error(), got.LastError)

	res, err := q.Process(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err = q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Len(t, c.calls, 4)
}

func TestEnqueue_BusyRepositoryStaysPendingWithoutAttempt(t *testing.T) {
	q, _ := newTestQueue(t, backend.Result{Error: backend.ErrBusy.Error()})

	item, res, err := q.Enqueue(context.Background(), "shop", "save", nil)
	require.NoError(t, err)
	assert.True(t, res.Busy())
	assert.Equal(t, models.QueuePending, item.Status)
	assert.Equal(t, 0, item.Attempts)
}

func TestBulkDeleteAndList(t *testing.T) {
	q, _ := newTestQueue(t, pushOK, pushFailed)

	done, _, err := q.Enqueue(context.Background(), "one", "save", nil)
	require.NoError(t, err)
	pending, _, err := q.Enqueue(context.Background(), "two", "save", nil)
	require.NoError(t, err)

	items, err := q.List(models.QueuePending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, pending.ID, items[0].ID)

	n, err := q.BulkDelete([]int64{done.ID, pending.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err = q.List("")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDispatcher(t *testing.T) {
	q, c := newTestQueue(t, pushOK)
	d := NewDispatcher(q, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	var wg sync.WaitGroup
	for _, id := range []string{"one", "two", "three"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resp, err := d.Submit(context.Background(), Request{Identifier: id, Message: "save"})
			assert.NoError(t, err)
			assert.NoError(t, resp.Err)
			assert.Equal(t, models.QueueCompleted, resp.Item.Status)
		}(id)
	}
	wg.Wait()
	assert.Len(t, c.calls, 3)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_SubmitHonoursContext(t *testing.T) {
	q, _ := newTestQueue(t, pushOK)
	d := NewDispatcher(q, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Submit(ctx, Request{Identifier: "one"})
	assert.True(t, errors.Is(err, context.Canceled))
}
