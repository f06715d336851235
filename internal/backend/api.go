package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/github"
	"github.com/kilupskalvis/repodeploy/internal/models"
)

// API emulates git operations with GitHub zipballs and the Contents API.
// Working directories carry no .git; a metadata sidecar records what they are.
type API struct {
	client  *github.Client
	tempDir string
	logger  *zap.Logger
}

// NewAPI returns an API backend. Downloads are staged under tempDir, or the
// system temp directory when tempDir is empty.
func NewAPI(client *github.Client, tempDir string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{client: client, tempDir: tempDir, logger: logger}
}

func (a *API) Mode() models.Mode {
	return models.ModeAPI
}

// IsAvailable is always true: the API backend only needs outbound HTTP.
func (a *API) IsAvailable(context.Context) bool {
	return true
}

func (a *API) Clone(ctx context.Context, repoURL, branch, dest, token string) Result {
	owner, repo, err := github.ParseRepoURL(repoURL)
	if err != nil {
		return fail("%s", err.Error())
	}

	if a.tempDir != "" {
		if err := os.MkdirAll(a.tempDir, 0700); err != nil {
			return fail("create temp directory: %v", err)
		}
	}

	zipFile, err := os.CreateTemp(a.tempDir, "repo-*.zip")
	if err != nil {
		return fail("create temp file: %v", err)
	}
	defer os.Remove(zipFile.Name())

	extractDir, err := os.MkdirTemp(a.tempDir, "extract-*")
	if err != nil {
		zipFile.Close()
		return fail("create temp directory: %v", err)
	}
	defer os.RemoveAll(extractDir)

	size, err := a.client.DownloadZipball(ctx, owner, repo, branch, token, zipFile)
	if cerr := zipFile.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return apiFailure(err)
	}
	a.logger.Debug("downloaded zipball",
		zap.String("repo", owner+"/"+repo),
		zap.String("branch", branch),
		zap.Int64("bytes", size),
	)

	if _, err := unzip(zipFile.Name(), extractDir); err != nil {
		return fail("%v", err)
	}

	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return fail("%v", err)
	}
	if len(entries) == 0 || !entries[0].IsDir() {
		return fail("No files extracted")
	}
	if len(entries) > 1 {
		return fail("unexpected archive layout: %d top-level entries", len(entries))
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fail("Failed to copy files to destination: %v", err)
	}
	if err := copyTree(filepath.Join(extractDir, entries[0].Name()), dest); err != nil {
		return fail("Failed to copy files to destination: %v", err)
	}

	meta := &models.RepoMetadata{Owner: owner, Repo: repo, Branch: branch, Mode: string(models.ModeAPI)}
	if err := WriteMetadata(dest, meta); err != nil {
		return fail("%v", err)
	}

	return ok()
}

func (a *API) Update(ctx context.Context, path, token string) Result {
	meta, err := ReadMetadata(path)
	if err != nil {
		return fail("%v", err)
	}

	if err := clearDir(path, MetadataFile); err != nil {
		return fail("clear working directory: %v", err)
	}

	repoURL := fmt.Sprintf("https://github.com/%s/%s", meta.Owner, meta.Repo)
	return a.Clone(ctx, repoURL, meta.Branch, path, token)
}

func (a *API) SwitchBranch(ctx context.Context, path, branch, token string) Result {
	meta, err := ReadMetadata(path)
	if err != nil {
		return fail("%v", err)
	}

	meta.Branch = branch
	if err := WriteMetadata(path, meta); err != nil {
		return fail("%v", err)
	}

	return a.Update(ctx, path, token)
}

func (a *API) CurrentBranch(_ context.Context, path string) (string, bool) {
	meta, err := ReadMetadata(path)
	if err != nil || meta.Branch == "" {
		return "", false
	}
	return meta.Branch, true
}

func (a *API) CommitAndPush(ctx context.Context, path, filePath, message, token string) Result {
	meta, err := ReadMetadata(path)
	if err != nil {
		return fail("%v", err)
	}
	if token == "" {
		return fail("Access token required for commits")
	}
	if allChanges(filePath) {
		return fail("File path required for API mode")
	}

	rel, err := relativeTo(path, filePath)
	if err != nil {
		return fail("%v", err)
	}
	full := filepath.Join(path, filepath.FromSlash(rel))

	content, err := os.ReadFile(full)
	if err != nil {
		return fail("File not found: %s", full)
	}

	sha, err := a.client.GetContentSHA(ctx, meta.Owner, meta.Repo, rel, meta.Branch, token)
	if err != nil {
		a.logger.Warn("could not read current file sha, committing as new file",
			zap.String("path", rel), zap.Error(err))
		sha = ""
	}

	resp, err := a.client.PutContent(ctx, meta.Owner, meta.Repo, rel, token, &github.PutContentRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  meta.Branch,
		SHA:     sha,
	})
	if err != nil {
		return apiFailure(err)
	}

	return Result{
		Success: true,
		Message: "Committed " + rel,
		Commit:  &CommitInfo{SHA: resp.Commit.SHA, URL: resp.Commit.HTMLURL, Path: rel},
	}
}

// relativeTo returns filePath relative to root in slash form. filePath may be
// absolute or already relative to root; it must stay inside root.
func relativeTo(root, filePath string) (string, error) {
	rel := filePath
	if filepath.IsAbs(filePath) {
		var err error
		rel, err = filepath.Rel(filepath.Clean(root), filepath.Clean(filePath))
		if err != nil {
			return "", fmt.Errorf("Invalid relative path")
		}
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == "" || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("Invalid relative path")
	}
	return rel, nil
}

func apiFailure(err error) Result {
	var ae *github.APIError
	if errors.As(err, &ae) {
		return Result{Success: false, Error: ae.Message, Details: ae.Body}
	}
	return fail("%v", err)
}
