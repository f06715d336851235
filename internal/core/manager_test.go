package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/progress"
	"github.com/kilupskalvis/repodeploy/internal/registry"
	"github.com/kilupskalvis/repodeploy/internal/state"
	"github.com/kilupskalvis/repodeploy/internal/store"
)

type fixedMode models.Mode

func (f fixedMode) Mode(context.Context) (models.Mode, error) { return models.Mode(f), nil }

// fakeBackend writes cloneFiles on Clone and tracks branches in memory.
type fakeBackend struct {
	mode       models.Mode
	cloneFiles map[string]string
	cloneErr   string
	commitErr  string

	mu       sync.Mutex
	branches map[string]string
	commits  []string
	tokens   []string
	block    chan struct{}
}

func newFakeBackend(mode models.Mode) *fakeBackend {
	return &fakeBackend{mode: mode, branches: map[string]string{}}
}

func (f *fakeBackend) Mode() models.Mode                { return f.mode }
func (f *fakeBackend) IsAvailable(context.Context) bool { return true }

func (f *fakeBackend) Clone(_ context.Context, _, branch, dest, token string) backend.Result {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return backend.Result{Error: err.Error()}
	}
	if f.cloneErr != "" {
		return backend.Result{Error: f.cloneErr, Details: "raw output"}
	}
	for name, content := range f.cloneFiles {
		if err := os.WriteFile(filepath.Join(dest, name), []byte(content), 0644); err != nil {
			return backend.Result{Error: err.Error()}
		}
	}
	f.mu.Lock()
	f.branches[dest] = branch
	f.mu.Unlock()
	return backend.Result{Success: true}
}

func (f *fakeBackend) Update(_ context.Context, path, _ string) backend.Result {
	if f.block != nil {
		<-f.block
	}
	return backend.Result{Success: true}
}

func (f *fakeBackend) SwitchBranch(_ context.Context, path, branch, _ string) backend.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[path] = branch
	return backend.Result{Success: true}
}

func (f *fakeBackend) CurrentBranch(_ context.Context, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.branches[path]
	return b, ok
}

func (f *fakeBackend) CommitAndPush(_ context.Context, path, filePath, _, _ string) backend.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, filePath)
	if f.commitErr != "" {
		return backend.Result{Error: f.commitErr}
	}
	return backend.Result{Success: true}
}

type testEnv struct {
	manager  *Manager
	backend  *fakeBackend
	registry *registry.Registry
	progress *state.Store
}

func newTestEnv(t *testing.T, mode models.Mode, token string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	require.NoError(t, st.RunMigrations())
	t.Cleanup(func() { st.Close() })

	kv, err := state.New(filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	roots := registry.Roots{Theme: filepath.Join(dir, "themes"), Plugin: filepath.Join(dir, "plugins")}
	require.NoError(t, os.MkdirAll(roots.Theme, 0755))
	require.NoError(t, os.MkdirAll(roots.Plugin, 0755))
	reg := registry.New(st, roots)

	fb := newFakeBackend(mode)
	m := NewManager(Deps{
		Registry: reg,
		Modes:    fixedMode(mode),
		Backends: map[models.Mode]backend.Backend{mode: fb},
		Progress: kv,
		Tokens:   StaticToken(token),
	})
	return &testEnv{manager: m, backend: fb, registry: reg, progress: kv}
}

func (e *testEnv) progressOf(t *testing.T, jobID string) *models.Progress {
	t.Helper()
	p, err := progress.Get(e.progress, jobID)
	require.NoError(t, err)
	return p
}

func TestClone_Theme(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "tok")
	env.backend.cloneFiles = map[string]string{
		"style.css": "/*\nTheme Name: Upstream\nVersion: 1.0\n*/\n",
	}

	res, err := env.manager.Clone(context.Background(), CloneOptions{
		URL:    "https://github.com/acme/shop",
		Branch: "main",
		Type:   models.RepoTypeTheme,
		JobID:  "job_clone",
	})
	require.NoError(t, err)
	assert.Equal(t, "shop", res.Handle)
	assert.Equal(t, "shop", res.DisplayName)
	assert.Equal(t, "job_clone", res.JobID)

	css, err := os.ReadFile(filepath.Join(res.Path, "style.css"))
	require.NoError(t, err)
	assert.Contains(t, string(css), "Theme Name: shop\n")

	repo, err := env.registry.GetByIdentifier("shop")
	require.NoError(t, err)
	assert.Equal(t, "main", repo.CurrentBranch)
	assert.Equal(t, models.RepoTypeTheme, repo.Type)

	p := env.progressOf(t, "job_clone")
	assert.Equal(t, models.StepCompleted, p.Step)
	assert.Equal(t, 100, p.Progress)

	// Tokens come from the source when the caller passes none.
	assert.Equal(t, []string{"tok"}, env.backend.tokens)

	branch, err := env.manager.CurrentBranch(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestClone_BranchSuffix(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	env.backend.cloneFiles = map[string]string{"style.css": "Theme Name: Upstream\n"}

	res, err := env.manager.Clone(context.Background(), CloneOptions{
		URL:        "https://github.com/acme/shop",
		Branch:     "dev",
		Type:       models.RepoTypeTheme,
		CustomName: "My Shop",
	})
	require.NoError(t, err)
	assert.Equal(t, "my-shop-dev", res.Handle)
	assert.NotEmpty(t, res.JobID)

	css, err := os.ReadFile(filepath.Join(res.Path, "style.css"))
	require.NoError(t, err)
	assert.Equal(t, "Theme Name: My Shop (Dev)\n", string(css))
}

func TestClone_PluginCustomName(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	env.backend.cloneFiles = map[string]string{
		"readme.txt":  "Plugin Name: not a php file",
		"helpers.php": "<?php\n// helpers\n",
		"forms.php":   "<?php\n/**\n * Plugin Name: Forms\n */\n",
	}

	res, err := env.manager.Clone(context.Background(), CloneOptions{
		URL:        "https://github.com/acme/forms",
		Branch:     "main",
		Type:       models.RepoTypePlugin,
		CustomName: "Client Forms",
	})
	require.NoError(t, err)

	php, err := os.ReadFile(filepath.Join(res.Path, "forms.php"))
	require.NoError(t, err)
	assert.Contains(t, string(php), " * Plugin Name: Client Forms\n")
}

func TestClone_ExistingDestination(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	dest := env.registry.ResolveLocalPath("shop", models.RepoTypeTheme)
	require.NoError(t, os.MkdirAll(dest, 0755))

	_, err := env.manager.Clone(context.Background(), CloneOptions{
		URL:   "https://github.com/acme/shop",
		Type:  models.RepoTypeTheme,
		JobID: "job_exists",
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Empty(t, env.backend.tokens, "backend must not be called")

	p := env.progressOf(t, "job_exists")
	assert.Equal(t, models.StepError, p.Step)
}

func TestClone_FailureCleansUp(t *testing.T) {
	env := newTestEnv(t, models.ModeAPI, "")
	env.backend.cloneErr = "Failed to download repository"

	_, err := env.manager.Clone(context.Background(), CloneOptions{
		URL:  "https://github.com/acme/shop",
		Type: models.RepoTypePlugin,
	})
	require.Error(t, err)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "raw output", be.Result.Details)
	assert.NoDirExists(t, env.registry.ResolveLocalPath("shop", models.RepoTypePlugin))

	stats, err := env.manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestClone_InvalidType(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	_, err := env.manager.Clone(context.Background(), CloneOptions{URL: "https://github.com/acme/x", Type: "widget"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func cloneShop(t *testing.T, env *testEnv) *OperationResult {
	t.Helper()
	res, err := env.manager.Clone(context.Background(), CloneOptions{
		URL:  "https://github.com/acme/shop",
		Type: models.RepoTypeTheme,
	})
	require.NoError(t, err)
	return res
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	cloneShop(t, env)

	res, err := env.manager.Update(context.Background(), "shop", "", "job_update")
	require.NoError(t, err)
	assert.Equal(t, "Repository updated successfully", res.Message)
	assert.Equal(t, models.StepCompleted, env.progressOf(t, "job_update").Step)
}

func TestUpdate_NotFound(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	_, err := env.manager.Update(context.Background(), "missing", "", "job_missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	p := env.progressOf(t, "job_missing")
	assert.Equal(t, models.StepError, p.Step)
	assert.Equal(t, 0, p.Progress)
}

func TestUpdate_BusyRepository(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	cloneShop(t, env)
	env.backend.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := env.manager.Update(context.Background(), "shop", "", "")
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, err := env.manager.SwitchBranch(context.Background(), "shop", "dev", "", "")
		return errors.Is(err, ErrRepositoryBusy)
	}, time.Second, 10*time.Millisecond)

	close(env.backend.block)
	require.NoError(t, <-done)
}

func TestSwitchBranch(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	cloneShop(t, env)

	res, err := env.manager.SwitchBranch(context.Background(), "shop", "develop", "", "job_switch")
	require.NoError(t, err)
	assert.Equal(t, "Switched to branch develop successfully", res.Message)

	repo, err := env.registry.GetByIdentifier("shop")
	require.NoError(t, err)
	assert.Equal(t, "develop", repo.CurrentBranch)

	branch, err := env.manager.CurrentBranch(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, "develop", branch)
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	res := cloneShop(t, env)

	_, err := env.manager.Remove(context.Background(), "shop")
	require.NoError(t, err)
	assert.NoDirExists(t, res.Path)

	_, err = env.manager.Remove(context.Background(), "shop")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestListInstalled(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	res := cloneShop(t, env)
	require.NoError(t, os.RemoveAll(res.Path))

	installed, err := env.manager.ListInstalled(context.Background())
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.False(t, installed[0].Exists)
	assert.Equal(t, res.Path, installed[0].Path)
}

func strPtr(s string) *string { return &s }

func TestCommitAndPush_CLIDefaultsToAllChanges(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "tok")
	cloneShop(t, env)

	res := env.manager.CommitAndPush(context.Background(), "shop", "msg", nil, "")
	assert.True(t, res.Success, res.Error)
	res = env.manager.CommitAndPush(context.Background(), "shop", "msg", strPtr(""), "")
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, []string{".", "."}, env.backend.commits)
}

func TestCommitAndPush_APIRequiresFile(t *testing.T) {
	env := newTestEnv(t, models.ModeAPI, "tok")
	cloneShop(t, env)

	res := env.manager.CommitAndPush(context.Background(), "shop", "msg", nil, "")
	assert.False(t, res.Success)
	assert.Equal(t, "File path required for API mode", res.Error)
	assert.Empty(t, env.backend.commits)

	res = env.manager.CommitAndPush(context.Background(), "shop", "msg", strPtr("style.css"), "")
	assert.True(t, res.Success)
	assert.Equal(t, []string{"style.css"}, env.backend.commits)
}

func TestCommitAndPush_RequiresToken(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "")
	cloneShop(t, env)

	res := env.manager.CommitAndPush(context.Background(), "shop", "msg", nil, "")
	assert.False(t, res.Success)
	assert.Equal(t, "Access token required", res.Error)
}

func TestCommitAndPush_AbsolutePath(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "tok")
	res := cloneShop(t, env)

	out := env.manager.CommitAndPush(context.Background(), res.Path, "", nil, "")
	assert.True(t, out.Success)
}

func TestCommitAndPush_UnknownRepository(t *testing.T) {
	env := newTestEnv(t, models.ModeCLI, "tok")
	res := env.manager.CommitAndPush(context.Background(), "missing", "msg", nil, "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestLocker(t *testing.T) {
	l := NewLocker()
	unlock, ok := l.TryLock("a")
	require.True(t, ok)

	_, ok = l.TryLock("a")
	assert.False(t, ok)
	_, ok = l.TryLock("b")
	assert.True(t, ok)

	unlock()
	unlock()
	_, ok = l.TryLock("a")
	assert.True(t, ok)
}
