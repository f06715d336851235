package backend

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external programs. Arguments are passed as a vector and
// never interpreted by a shell.
type Runner interface {
	LookPath(name string) (string, error)
	// Run executes name in dir and returns its combined stdout and stderr.
	// A non-zero exit status is reported as an error alongside the output.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd.CombinedOutput()
}

// GitVersion runs `git --version` and returns its trimmed output.
func GitVersion(ctx context.Context, r Runner) (string, error) {
	if _, err := r.LookPath("git"); err != nil {
		return "", fmt.Errorf("git executable not found: %w", err)
	}
	out, err := r.Run(ctx, "", "git", "--version")
	version := strings.TrimSpace(string(out))
	if err != nil {
		if version == "" {
			return "", err
		}
		return "", fmt.Errorf("%s", version)
	}
	return version, nil
}
