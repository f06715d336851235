// Package models defines the data types shared across repodeploy packages.
package models

import (
	"fmt"
	"time"
)

// RepoType selects which content root a repository is installed under.
type RepoType string

const (
	RepoTypeTheme  RepoType = "theme"
	RepoTypePlugin RepoType = "plugin"
)

// Valid reports whether t is a known repository type.
func (t RepoType) Valid() bool {
	return t == RepoTypeTheme || t == RepoTypePlugin
}

// ParseRepoType converts user input into a RepoType.
func ParseRepoType(s string) (RepoType, error) {
	t := RepoType(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid repository type %q (must be theme or plugin)", s)
	}
	return t, nil
}

// Repository is a row of the repository registry.
//
// FolderName is the portable identity of an installation. LocalPath is only
// populated for rows written before folder names existed and is never used as
// ground truth once FolderName is known.
type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	FolderName    string    `json:"folder_name"`
	LocalPath     string    `json:"local_path,omitempty"`
	Type          RepoType  `json:"type"`
	CurrentBranch string    `json:"current_branch"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdate    time.Time `json:"last_update"`
}

// Identifier returns the folder name, falling back to the legacy path.
func (r *Repository) Identifier() string {
	if r.FolderName != "" {
		return r.FolderName
	}
	return r.LocalPath
}

// InstalledRepository is a registry row annotated with its on-disk state.
type InstalledRepository struct {
	Repository
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	HasGit bool   `json:"has_git"`
}

// RepoStats summarises the registry contents.
type RepoStats struct {
	Total   int `json:"total"`
	Themes  int `json:"themes"`
	Plugins int `json:"plugins"`
}
