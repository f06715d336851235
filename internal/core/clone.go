package core

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/github"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/registry"
)

// CloneOptions configures a clone.
type CloneOptions struct {
	URL    string
	Branch string
	Type   models.RepoType
	// RepoName is the repository name; derived from URL when empty.
	RepoName string
	// CustomName replaces RepoName as display name and folder handle.
	CustomName string
	Token      string
	JobID      string
}

// Clone installs a repository branch under the content root of its type
// and registers it.
func (m *Manager) Clone(ctx context.Context, opts CloneOptions) (*OperationResult, error) {
	job := m.tracker(opts.JobID)
	job.update(models.StepValidating, "Validating configuration...", 10)

	if !opts.Type.Valid() {
		return nil, job.fail(fmt.Errorf("%w: repository type %q must be theme or plugin", ErrInvalidInput, opts.Type))
	}
	if opts.URL == "" {
		return nil, job.fail(fmt.Errorf("%w: repository URL is required", ErrInvalidInput))
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.RepoName == "" {
		opts.RepoName = repoNameFromURL(opts.URL)
	}

	b, err := m.Backend(ctx)
	if err != nil {
		return nil, job.fail(err)
	}
	if !b.IsAvailable(ctx) {
		return nil, job.fail(ErrBackendUnavailable)
	}

	displayName := opts.RepoName
	if opts.CustomName != "" {
		displayName = opts.CustomName
	}
	handle := registry.FolderHandle(displayName, opts.Branch)
	if handle == "" {
		return nil, job.fail(fmt.Errorf("%w: cannot derive a folder name from %q", ErrInvalidInput, displayName))
	}
	dest := m.registry.ResolveLocalPath(handle, opts.Type)

	unlock, ok := m.locks.TryLock(dest)
	if !ok {
		return nil, job.fail(ErrRepositoryBusy)
	}
	defer unlock()

	if isDir(dest) {
		return nil, job.fail(fmt.Errorf("directory %s: %w", handle, ErrAlreadyExists))
	}
	if _, err := m.registry.GetByIdentifier(string(opts.Type) + "/" + handle); err == nil {
		return nil, job.fail(fmt.Errorf("%s '%s' is already registered: %w", opts.Type, handle, ErrAlreadyExists))
	}

	job.update(models.StepDownloading, "Downloading repository...", 30)

	res := b.Clone(ctx, opts.URL, opts.Branch, dest, m.token(opts.Token))
	if !res.Success {
		removePartial(dest, m.logger)
		return nil, job.fail(&BackendError{Op: "clone repository", Result: res})
	}

	job.update(models.StepConfiguring, "Configuring files...", 70)

	switch {
	case opts.Type == models.RepoTypeTheme:
		if _, err := renameTheme(dest, displayName, opts.Branch); err != nil {
			m.logger.Warn("failed to rename theme", zap.String("path", dest), zap.Error(err))
		}
	case opts.Type == models.RepoTypePlugin && opts.CustomName != "":
		if _, err := renamePlugin(dest, displayName, opts.RepoName); err != nil {
			m.logger.Warn("failed to rename plugin", zap.String("path", dest), zap.Error(err))
		}
	}

	job.update(models.StepSaving, "Saving to registry...", 90)

	repo := &models.Repository{
		Name:          displayName,
		URL:           opts.URL,
		FolderName:    handle,
		Type:          opts.Type,
		CurrentBranch: opts.Branch,
	}
	if err := m.registry.Register(repo); err != nil {
		removePartial(dest, m.logger)
		return nil, job.fail(fmt.Errorf("register repository: %w", err))
	}

	job.complete("Repository cloned successfully")
	m.logger.Info("repository cloned",
		zap.String("folder", handle),
		zap.String("type", string(opts.Type)),
		zap.String("branch", opts.Branch),
		zap.String("mode", string(b.Mode())),
	)

	return &OperationResult{
		JobID:       job.id(),
		Message:     "Repository cloned successfully",
		Path:        dest,
		Handle:      handle,
		DisplayName: displayName,
	}, nil
}

func repoNameFromURL(url string) string {
	if name := github.RepoName(url); name != "" {
		return name
	}
	return strings.TrimSuffix(path.Base(strings.TrimRight(url, "/")), ".git")
}
