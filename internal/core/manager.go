// Package core orchestrates repository operations: it resolves registry
// rows to working directories, picks the backend for the active mode,
// reports progress and keeps the registry in step with the filesystem.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/progress"
	"github.com/kilupskalvis/repodeploy/internal/registry"
)

var (
	// ErrAlreadyExists is returned when a clone destination is taken.
	ErrAlreadyExists = errors.New("repository already exists")
	// ErrRepositoryBusy is returned when another mutating operation holds
	// the repository.
	ErrRepositoryBusy = backend.ErrBusy
	// ErrBackendUnavailable is returned when the selected backend cannot run here.
	ErrBackendUnavailable = errors.New("git backend is not available")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// BackendError carries a failed backend Result up to the caller.
type BackendError struct {
	Op     string
	Result backend.Result
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("failed to %s: %s", e.Op, e.Result.Error)
}

// ModeSource reports the active backend mode.
type ModeSource interface {
	Mode(ctx context.Context) (models.Mode, error)
}

// TokenSource supplies the access token used when a caller passes none.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed TokenSource.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Deps are the collaborators of a Manager.
type Deps struct {
	Registry *registry.Registry
	Modes    ModeSource
	Backends map[models.Mode]backend.Backend
	Progress progress.Store
	Tokens   TokenSource
	Logger   *zap.Logger
}

// Manager runs repository operations.
type Manager struct {
	registry *registry.Registry
	modes    ModeSource
	backends map[models.Mode]backend.Backend
	progress progress.Store
	tokens   TokenSource
	locks    *Locker
	logger   *zap.Logger
}

// NewManager returns a Manager over deps.
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Manager{
		registry: deps.Registry,
		modes:    deps.Modes,
		backends: deps.Backends,
		progress: deps.Progress,
		tokens:   tokens,
		locks:    NewLocker(),
		logger:   logger,
	}
}

// OperationResult describes a finished job.
type OperationResult struct {
	JobID       string `json:"job_id"`
	Message     string `json:"message"`
	Path        string `json:"path,omitempty"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Backend returns the backend for the active mode.
func (m *Manager) Backend(ctx context.Context) (backend.Backend, error) {
	mode, err := m.modes.Mode(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve git mode: %w", err)
	}
	b, ok := m.backends[mode]
	if !ok {
		return nil, fmt.Errorf("no backend configured for mode %q", mode)
	}
	return b, nil
}

func (m *Manager) token(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return m.tokens.Token()
}

// tracker opens the progress handle of a job. Progress write failures are
// logged and never fail the operation itself.
func (m *Manager) tracker(jobID string) *jobTracker {
	return &jobTracker{t: progress.New(m.progress, jobID), logger: m.logger}
}

type jobTracker struct {
	t      *progress.Tracker
	logger *zap.Logger
}

func (j *jobTracker) id() string { return j.t.ID() }

func (j *jobTracker) update(step models.Step, msg string, pct int) {
	if err := j.t.Update(step, msg, pct); err != nil {
		j.logger.Warn("progress update failed", zap.String("job_id", j.t.ID()), zap.Error(err))
	}
}

func (j *jobTracker) complete(msg string) {
	if err := j.t.Complete(msg); err != nil {
		j.logger.Warn("progress update failed", zap.String("job_id", j.t.ID()), zap.Error(err))
	}
}

// fail records err as the terminal state of the job and returns it.
func (j *jobTracker) fail(err error) error {
	if perr := j.t.Error(err.Error()); perr != nil {
		j.logger.Warn("progress update failed", zap.String("job_id", j.t.ID()), zap.Error(perr))
	}
	return err
}

// lookup resolves identifier to its registry row and working directory.
func (m *Manager) lookup(identifier string) (*models.Repository, string, error) {
	repo, err := m.registry.GetByIdentifier(identifier)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, "", fmt.Errorf("repository '%s': %w", identifier, err)
		}
		return nil, "", err
	}
	return repo, m.registry.Path(repo), nil
}

// Remove deletes the working directory and registry row of identifier.
func (m *Manager) Remove(ctx context.Context, identifier string) (*models.Repository, error) {
	_, path, err := m.lookup(identifier)
	if err != nil {
		return nil, err
	}
	unlock, ok := m.locks.TryLock(path)
	if !ok {
		return nil, ErrRepositoryBusy
	}
	defer unlock()

	repo, err := m.registry.Remove(identifier)
	if err != nil {
		return nil, err
	}
	m.logger.Info("repository removed", zap.String("folder", repo.FolderName), zap.String("type", string(repo.Type)))
	return repo, nil
}

// CurrentBranch reports the live branch of identifier.
func (m *Manager) CurrentBranch(ctx context.Context, identifier string) (string, error) {
	_, path, err := m.lookup(identifier)
	if err != nil {
		return "", err
	}
	b, err := m.Backend(ctx)
	if err != nil {
		return "", err
	}
	branch, ok := b.CurrentBranch(ctx, path)
	if !ok {
		if ws := registry.Inspect(path); ws.Branch != "" {
			return ws.Branch, nil
		}
		return "", fmt.Errorf("cannot determine branch of %s", path)
	}
	return branch, nil
}

// ListInstalled returns the registry annotated with on-disk state.
func (m *Manager) ListInstalled(ctx context.Context) ([]*models.InstalledRepository, error) {
	var branchFn registry.BranchFunc
	if b, err := m.Backend(ctx); err == nil {
		branchFn = b.CurrentBranch
	} else {
		m.logger.Warn("listing without live branches", zap.Error(err))
	}
	return m.registry.ListInstalled(ctx, branchFn)
}

// Stats counts registered repositories by type.
func (m *Manager) Stats() (*models.RepoStats, error) {
	return m.registry.Stats()
}

// MigrateLegacyPaths backfills folder names of rows that predate them.
func (m *Manager) MigrateLegacyPaths() (int, error) {
	return m.registry.MigrateLegacyPaths()
}

// Registry returns the repository registry.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

func removePartial(path string, logger *zap.Logger) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		logger.Error("failed to clean up partial clone", zap.String("path", path), zap.Error(err))
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isAbsDir(path string) bool {
	return filepath.IsAbs(path) && isDir(path)
}
