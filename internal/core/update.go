package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

// Update brings an installed repository up to date with its branch.
func (m *Manager) Update(ctx context.Context, identifier, token, jobID string) (*OperationResult, error) {
	job := m.tracker(jobID)
	job.update(models.StepValidating, "Validating repository...", 10)

	repo, path, err := m.lookup(identifier)
	if err != nil {
		return nil, job.fail(err)
	}
	b, err := m.Backend(ctx)
	if err != nil {
		return nil, job.fail(err)
	}

	unlock, ok := m.locks.TryLock(path)
	if !ok {
		return nil, job.fail(ErrRepositoryBusy)
	}
	defer unlock()

	job.update(models.StepUpdating, "Downloading updates...", 50)

	res := b.Update(ctx, path, m.token(token))
	if !res.Success {
		return nil, job.fail(&BackendError{Op: "update repository", Result: res})
	}

	job.update(models.StepSaving, "Saving changes...", 90)

	if err := m.registry.Touch(repo); err != nil {
		return nil, job.fail(err)
	}

	job.complete("Repository updated successfully")
	m.logger.Info("repository updated", zap.String("folder", repo.FolderName), zap.String("mode", string(b.Mode())))

	return &OperationResult{
		JobID:   job.id(),
		Message: "Repository updated successfully",
		Path:    path,
		Handle:  repo.FolderName,
	}, nil
}

// SwitchBranch moves an installed repository to branch.
func (m *Manager) SwitchBranch(ctx context.Context, identifier, branch, token, jobID string) (*OperationResult, error) {
	job := m.tracker(jobID)
	job.update(models.StepValidating, "Validating branch...", 10)

	if branch == "" {
		return nil, job.fail(fmt.Errorf("%w: branch name is required", ErrInvalidInput))
	}
	repo, path, err := m.lookup(identifier)
	if err != nil {
		return nil, job.fail(err)
	}
	b, err := m.Backend(ctx)
	if err != nil {
		return nil, job.fail(err)
	}

	unlock, ok := m.locks.TryLock(path)
	if !ok {
		return nil, job.fail(ErrRepositoryBusy)
	}
	defer unlock()

	job.update(models.StepSwitching, "Switching to branch "+branch+"...", 50)

	res := b.SwitchBranch(ctx, path, branch, m.token(token))
	if !res.Success {
		return nil, job.fail(&BackendError{Op: "switch branch", Result: res})
	}

	job.update(models.StepSaving, "Saving changes...", 90)

	if err := m.registry.SetBranch(repo, branch); err != nil {
		return nil, job.fail(err)
	}

	msg := fmt.Sprintf("Switched to branch %s successfully", branch)
	job.complete(msg)
	m.logger.Info("branch switched", zap.String("folder", repo.FolderName), zap.String("branch", branch))

	return &OperationResult{
		JobID:   job.id(),
		Message: msg,
		Path:    path,
		Handle:  repo.FolderName,
	}, nil
}
