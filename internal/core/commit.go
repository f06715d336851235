package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/models"
)

// DefaultCommitMessage is used when a commit request carries no message.
const DefaultCommitMessage = "Automated changes from repodeploy"

// CommitAndPush records and publishes changes of an installed repository.
// identifier is a registry identifier or an existing absolute working
// directory. A nil or empty filePath selects all changes, which only the
// CLI backend supports.
func (m *Manager) CommitAndPush(ctx context.Context, identifier, message string, filePath *string, token string) backend.Result {
	path := identifier
	if !isAbsDir(identifier) {
		_, resolved, err := m.lookup(identifier)
		if err != nil {
			return backend.Result{Error: err.Error()}
		}
		path = resolved
	}

	token = m.token(token)
	if token == "" {
		return backend.Result{Error: "Access token required"}
	}

	b, err := m.Backend(ctx)
	if err != nil {
		return backend.Result{Error: err.Error()}
	}

	file := ""
	if filePath != nil {
		file = *filePath
	}
	if file == "" && b.Mode() == models.ModeCLI {
		file = "."
	}
	if file == "" {
		return backend.Result{Error: "File path required for API mode"}
	}
	if message == "" {
		message = DefaultCommitMessage
	}

	unlock, ok := m.locks.TryLock(path)
	if !ok {
		return backend.Result{Error: ErrRepositoryBusy.Error()}
	}
	defer unlock()

	res := b.CommitAndPush(ctx, path, file, message, token)
	if res.Success {
		m.logger.Info("changes pushed", zap.String("path", path), zap.String("file", file))
	} else {
		m.logger.Warn("commit failed", zap.String("path", path), zap.String("error", res.Error))
	}
	return res
}
