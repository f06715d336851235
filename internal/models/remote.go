package models

// Mode names the backend serving repository operations.
type Mode string

const (
	ModeCLI Mode = "cli"
	ModeAPI Mode = "api"
)

// ForceMode is the operator override for mode detection.
type ForceMode string

const (
	ForceAuto ForceMode = "auto"
	ForceCLI  ForceMode = "cli"
	ForceAPI  ForceMode = "api"
)

// ParseForceMode validates an override value. An empty string means auto.
func ParseForceMode(s string) (ForceMode, bool) {
	switch ForceMode(s) {
	case "", ForceAuto:
		return ForceAuto, true
	case ForceCLI, ForceAPI:
		return ForceMode(s), true
	}
	return "", false
}

// RepoMetadata is the sidecar written into API-mode working directories.
// The JSON shape is shared with existing installations and must not change.
type RepoMetadata struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Mode   string `json:"mode"`
}
