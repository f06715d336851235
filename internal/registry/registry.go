// Package registry maps installed themes and plugins to their registry rows
// and their folders under the content roots.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/store"
)

// ErrNotFound is returned when no registry row matches an identifier.
var ErrNotFound = errors.New("repository not found")

// Roots are the content directories repositories are installed under.
type Roots struct {
	Theme  string
	Plugin string
}

// Dir returns the root for repoType.
func (r Roots) Dir(repoType models.RepoType) string {
	if repoType == models.RepoTypeTheme {
		return r.Theme
	}
	return r.Plugin
}

// BranchFunc reports the checked-out branch of a working directory.
type BranchFunc func(ctx context.Context, path string) (string, bool)

// Registry resolves repositories by their portable folder identity.
type Registry struct {
	store *store.Store
	roots Roots
}

// New returns a registry over s.
func New(s *store.Store, roots Roots) *Registry {
	return &Registry{store: s, roots: roots}
}

// Roots returns the configured content roots.
func (r *Registry) Roots() Roots {
	return r.roots
}

// ResolveLocalPath returns the absolute directory of folder under the root
// of repoType. Stored absolute paths are never consulted.
func (r *Registry) ResolveLocalPath(folder string, repoType models.RepoType) string {
	return filepath.Join(r.roots.Dir(repoType), folder)
}

// Path returns the working directory of repo in the current environment.
func (r *Registry) Path(repo *models.Repository) string {
	return r.ResolveLocalPath(folderOf(repo), repo.Type)
}

func folderOf(repo *models.Repository) string {
	if repo.FolderName != "" {
		return repo.FolderName
	}
	return filepath.Base(filepath.Clean(repo.LocalPath))
}

// GetByIdentifier looks a repository up by folder name. The identifier may
// be qualified as "theme/<folder>" or "plugin/<folder>"; an unqualified
// folder present under both roots resolves to the theme. Rows written before
// folder names existed are still found by their stored absolute path.
func (r *Registry) GetByIdentifier(identifier string) (*models.Repository, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}

	folder, repoType := identifier, models.RepoType("")
	if prefix, rest, found := strings.Cut(identifier, "/"); found && models.RepoType(prefix).Valid() && rest != "" && !strings.Contains(rest, "/") {
		folder, repoType = rest, models.RepoType(prefix)
	}

	repo, err := r.store.GetRepositoryByFolder(folder, repoType)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	repo, err = r.store.GetRepositoryByLocalPath(identifier)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if repo.FolderName == "" {
		repo.FolderName = folderOf(repo)
	}
	return repo, nil
}

// ListInstalled returns every registered repository annotated with its
// on-disk state. branch, when non-nil, supplies the live branch of existing
// directories; the git HEAD is used when it reports none.
func (r *Registry) ListInstalled(ctx context.Context, branch BranchFunc) ([]*models.InstalledRepository, error) {
	repos, err := r.store.ListRepositories()
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	installed := make([]*models.InstalledRepository, 0, len(repos))
	for _, repo := range repos {
		if repo.FolderName == "" {
			repo.FolderName = folderOf(repo)
		}
		item := &models.InstalledRepository{Repository: *repo, Path: r.Path(repo)}

		if info, err := os.Stat(item.Path); err == nil && info.IsDir() {
			item.Exists = true
			ws := Inspect(item.Path)
			item.HasGit = ws.HasGit

			live, ok := "", false
			if branch != nil {
				live, ok = branch(ctx, item.Path)
			}
			switch {
			case ok && live != "":
				item.CurrentBranch = live
			case ws.Branch != "":
				item.CurrentBranch = ws.Branch
			}
		}
		installed = append(installed, item)
	}
	return installed, nil
}

// Register records a newly installed repository.
func (r *Registry) Register(repo *models.Repository) error {
	return r.store.InsertRepository(repo)
}

// SetBranch records the branch repo is now on.
func (r *Registry) SetBranch(repo *models.Repository, branch string) error {
	if err := r.store.UpdateRepositoryBranch(repo.ID, branch); err != nil {
		return fmt.Errorf("record branch of %s: %w", repo.FolderName, err)
	}
	repo.CurrentBranch = branch
	return nil
}

// Touch bumps the last update time of repo.
func (r *Registry) Touch(repo *models.Repository) error {
	if err := r.store.TouchRepository(repo.ID); err != nil {
		return fmt.Errorf("record update of %s: %w", repo.FolderName, err)
	}
	return nil
}

// Remove deletes the working directory of identifier, then its row. The
// row is kept when the directory cannot be deleted.
func (r *Registry) Remove(identifier string) (*models.Repository, error) {
	repo, err := r.GetByIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	path := r.Path(repo)
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove directory %s: %w", path, err)
		}
	}

	if err := r.store.DeleteRepository(repo.ID); err != nil {
		return nil, fmt.Errorf("delete registry row: %w", err)
	}
	return repo, nil
}

// MigrateLegacyPaths stores folder names for rows that only carry an
// absolute path and returns how many were migrated.
func (r *Registry) MigrateLegacyPaths() (int, error) {
	return r.store.BackfillFolderNames()
}

// Stats counts registered repositories by type.
func (r *Registry) Stats() (*models.RepoStats, error) {
	return r.store.RepoStats()
}
