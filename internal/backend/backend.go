// Package backend implements repository synchronization against either a
// local git executable or the GitHub REST API behind one contract.
//
// Backend methods never return Go errors. Every failure is reported in a
// Result so that callers can surface the raw diagnostic text to operators.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

// Backend is the capability contract shared by the CLI and API backends.
//
// The two implementations are deliberately not equivalent for commits: the
// CLI backend can stage and push a whole working tree, while the API backend
// pushes exactly one file per call. Update and SwitchBranch in API mode are
// full re-downloads.
type Backend interface {
	// Mode identifies the implementation.
	Mode() models.Mode
	// IsAvailable reports whether the backend can serve requests here.
	IsAvailable(ctx context.Context) bool
	// Clone installs branch of repoURL into dest.
	Clone(ctx context.Context, repoURL, branch, dest, token string) Result
	// Update brings the working directory at path up to date with its branch.
	Update(ctx context.Context, path, token string) Result
	// SwitchBranch moves the working directory at path to branch.
	SwitchBranch(ctx context.Context, path, branch, token string) Result
	// CurrentBranch returns the branch of path. ok is false when the
	// directory carries no git data or metadata.
	CurrentBranch(ctx context.Context, path string) (branch string, ok bool)
	// CommitAndPush records and publishes changes. An empty filePath or "."
	// selects all changes, which only the CLI backend supports.
	CommitAndPush(ctx context.Context, path, filePath, message, token string) Result
}

// ErrBusy is reported when another mutating operation holds the working
// directory. Nothing was attempted.
var ErrBusy = errors.New("repository is busy with another operation")

// Result is the outcome of a backend operation.
type Result struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Details string      `json:"details,omitempty"`
	Commit  *CommitInfo `json:"commit,omitempty"`
}

// CommitInfo describes a commit created through the Contents API.
type CommitInfo struct {
	SHA  string `json:"sha"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// Busy reports whether the operation was refused because the working
// directory was locked.
func (r Result) Busy() bool {
	return !r.Success && r.Error == ErrBusy.Error()
}

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return fmt.Errorf("operation failed")
	}
	return fmt.Errorf("%s", r.Error)
}

func ok() Result {
	return Result{Success: true}
}

func okMessage(msg string) Result {
	return Result{Success: true, Message: msg}
}

func fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Identity is the author recorded on commits made by the CLI backend.
type Identity struct {
	AppName string
	AppID   int64
}

// Name returns the bot display name.
func (i Identity) Name() string {
	return i.AppName + "[bot]"
}

// Email returns the GitHub noreply address of the bot.
func (i Identity) Email() string {
	return fmt.Sprintf("%d+%s[bot]@users.noreply.github.com", i.AppID, i.AppName)
}

// allChanges reports whether filePath selects the whole working tree.
func allChanges(filePath string) bool {
	return filePath == "" || filePath == "."
}
