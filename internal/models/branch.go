package models

// Branch is a remote branch as reported by the token service.
type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
}

// RemoteRepository is a GitHub repository visible to the current user.
type RemoteRepository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// Installation is a GitHub App installation on a user or organization.
type Installation struct {
	ID      int64  `json:"id"`
	Account string `json:"account"`
	Type    string `json:"type"`
}

// User is the authenticated GitHub account.
type User struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
