package backend

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

const githubPrefix = "https://github.com/"

var credentialPattern = regexp.MustCompile(`https://[^@/]+@`)

// CLI runs a local git executable against real working trees.
type CLI struct {
	runner   Runner
	identity Identity
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCLI returns a CLI backend. timeout bounds each git invocation.
func NewCLI(runner Runner, identity Identity, timeout time.Duration, logger *zap.Logger) *CLI {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLI{runner: runner, identity: identity, timeout: timeout, logger: logger}
}

func (c *CLI) Mode() models.Mode {
	return models.ModeCLI
}

func (c *CLI) IsAvailable(ctx context.Context) bool {
	_, err := GitVersion(ctx, c.runner)
	return err == nil
}

// git runs a git subcommand in dir. The returned output has token redacted.
func (c *CLI) git(ctx context.Context, dir, token string, args ...string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.runner.Run(ctx, dir, "git", args...)
	text := redact(strings.TrimSpace(string(out)), token)
	if err != nil {
		c.logger.Debug("git command failed",
			zap.String("dir", dir),
			zap.String("command", args[0]),
			zap.String("output", text),
			zap.Error(err),
		)
		if text == "" {
			text = redact(err.Error(), token)
		}
		return text, err
	}
	return text, nil
}

func (c *CLI) Clone(ctx context.Context, repoURL, branch, dest, token string) Result {
	cleanURL := stripCredentials(repoURL)
	if out, err := c.git(ctx, "", token, "clone", "-b", branch, authURL(cleanURL, token), dest); err != nil {
		return fail("%s", out)
	}

	// The credential must not outlive the call.
	if token != "" {
		if out, err := c.git(ctx, dest, token, "remote", "set-url", "origin", cleanURL); err != nil {
			return fail("%s", out)
		}
	}
	return ok()
}

func (c *CLI) Update(ctx context.Context, path, token string) Result {
	var out string
	err := c.withRemoteToken(ctx, path, token, func() error {
		var err error
		out, err = c.git(ctx, path, token, "pull", "origin")
		return err
	})
	if err != nil {
		return fail("%s", out)
	}
	return okMessage(out)
}

func (c *CLI) SwitchBranch(ctx context.Context, path, branch, token string) Result {
	var out string
	err := c.withRemoteToken(ctx, path, token, func() error {
		var err error
		out, err = c.git(ctx, path, token, "fetch", "origin")
		return err
	})
	if err != nil {
		return fail("%s", out)
	}

	list, err := c.git(ctx, path, "", "branch", "--list", branch)
	if err != nil {
		return fail("%s", list)
	}

	if list != "" {
		out, err = c.git(ctx, path, "", "checkout", branch)
	} else {
		out, err = c.git(ctx, path, "", "checkout", "-b", branch, "origin/"+branch)
	}
	if err != nil {
		return fail("%s", out)
	}
	return ok()
}

func (c *CLI) CurrentBranch(ctx context.Context, path string) (string, bool) {
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return "", false
	}
	out, err := c.git(ctx, path, "", "branch", "--show-current")
	if err != nil || out == "" {
		return "", false
	}
	return strings.SplitN(out, "\n", 2)[0], true
}

func (c *CLI) CommitAndPush(ctx context.Context, path, filePath, message, token string) Result {
	if allChanges(filePath) {
		filePath = "."
	}

	if out, err := c.git(ctx, path, "", "config", "user.name", c.identity.Name()); err != nil {
		return fail("%s", out)
	}
	if out, err := c.git(ctx, path, "", "config", "user.email", c.identity.Email()); err != nil {
		return fail("%s", out)
	}
	if out, err := c.git(ctx, path, "", "add", "--", filePath); err != nil {
		return fail("%s", out)
	}

	out, err := c.git(ctx, path, "", "commit", "-m", message)
	if err != nil {
		if strings.Contains(out, "nothing to commit") {
			return okMessage("No changes to commit")
		}
		return fail("%s", out)
	}

	branch, found := c.CurrentBranch(ctx, path)
	if !found {
		return fail("cannot push: HEAD is not on a branch")
	}

	err = c.withRemoteToken(ctx, path, token, func() error {
		var err error
		out, err = c.git(ctx, path, token, "push", "origin", branch)
		return err
	})
	if err != nil {
		return fail("%s", out)
	}
	return okMessage("Changes pushed to " + branch)
}

// withRemoteToken points origin at an authenticated URL while fn runs and
// restores the clean URL afterwards.
func (c *CLI) withRemoteToken(ctx context.Context, path, token string, fn func() error) error {
	if token == "" {
		return fn()
	}

	current, err := c.git(ctx, path, token, "remote", "get-url", "origin")
	if err != nil || current == "" {
		return fn()
	}
	cleanURL := stripCredentials(current)

	if _, err := c.git(ctx, path, token, "remote", "set-url", "origin", authURL(cleanURL, token)); err != nil {
		c.logger.Warn("could not configure remote token", zap.String("path", path), zap.Error(err))
		return fn()
	}
	defer func() {
		if _, err := c.git(context.WithoutCancel(ctx), path, token, "remote", "set-url", "origin", cleanURL); err != nil {
			c.logger.Warn("could not restore remote url", zap.String("path", path), zap.Error(err))
		}
	}()

	return fn()
}

// authURL injects token as an x-access-token credential into a GitHub HTTPS URL.
func authURL(repoURL, token string) string {
	if token == "" || !strings.HasPrefix(repoURL, githubPrefix) {
		return repoURL
	}
	return "https://x-access-token:" + token + "@github.com/" + strings.TrimPrefix(repoURL, githubPrefix)
}

func stripCredentials(u string) string {
	return credentialPattern.ReplaceAllString(u, "https://")
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
