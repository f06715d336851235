package registry

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Workspace describes the git state of a working directory.
type Workspace struct {
	HasGit bool
	Branch string
}

// Inspect opens path as a git working tree without searching parent
// directories. Branch is the HEAD branch, which may not have commits yet.
func Inspect(path string) Workspace {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return Workspace{}
	}

	ws := Workspace{HasGit: true}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return ws
	}
	if head.Type() == plumbing.SymbolicReference && head.Target().IsBranch() {
		ws.Branch = head.Target().Short()
	}
	return ws
}
