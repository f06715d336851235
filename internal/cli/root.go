// Package cli implements the command-line interface for repodeploy.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/config"
	"github.com/kilupskalvis/repodeploy/internal/core"
	"github.com/kilupskalvis/repodeploy/internal/github"
	"github.com/kilupskalvis/repodeploy/internal/logger"
	"github.com/kilupskalvis/repodeploy/internal/mode"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/oauth"
	"github.com/kilupskalvis/repodeploy/internal/queue"
	"github.com/kilupskalvis/repodeploy/internal/registry"
	"github.com/kilupskalvis/repodeploy/internal/state"
	"github.com/kilupskalvis/repodeploy/internal/store"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config   *config.Config
	Store    *store.Store
	State    *state.Store
	Logger   *zap.Logger
	Modes    *mode.Selector
	OAuth    *oauth.Client
	Manager  *core.Manager
	Queue    *queue.Queue
	Registry *registry.Registry
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
}

// initContext loads the site configuration and opens both stores with
// migrations applied.
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := logger.New(level, cfg.LogFormat)

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to open store: %v", err)
	}
	if err := st.RunMigrations(); err != nil {
		st.Close()
		exitError("failed to run migrations: %v", err)
	}

	kv, err := state.New(cfg.StatePath())
	if err != nil {
		st.Close()
		exitError("failed to open state: %v", err)
	}

	return &cmdContext{
		Config: cfg,
		Store:  st,
		State:  kv,
		Logger: log,
		Modes:  mode.NewSelector(kv, backend.ExecRunner{}, cfg.DisableExec, cfg.Override(), log),
		OAuth:  oauth.NewClient(cfg.OAuthServiceURL, kv, cfg.RequestTimeoutDuration(), log),
	}
}

// initFullContext additionally wires the backends, the operation manager
// and the commit queue.
func initFullContext() *cmdContext {
	c := initContext()
	cfg := c.Config

	gh := github.NewClient(cfg.GitHubAPIURL, cfg.RequestTimeoutDuration(), cfg.DownloadTimeoutDuration()).
		WithRetry(github.DefaultRetryConfig())

	identity := backend.Identity{AppName: cfg.BotName, AppID: cfg.BotAppID}
	backends := map[models.Mode]backend.Backend{
		models.ModeCLI: backend.NewCLI(backend.ExecRunner{}, identity, cfg.DownloadTimeoutDuration(), c.Logger),
		models.ModeAPI: backend.NewAPI(gh, filepath.Join(cfg.SitePath(), "tmp"), c.Logger),
	}

	c.Registry = registry.New(c.Store, registry.Roots{Theme: cfg.ThemeDir(), Plugin: cfg.PluginDir()})
	c.Manager = core.NewManager(core.Deps{
		Registry: c.Registry,
		Modes:    c.Modes,
		Backends: backends,
		Progress: c.State,
		Tokens:   &tokenSource{oauth: c.OAuth},
		Logger:   c.Logger,
	})
	c.Queue = queue.New(c.Store, c.Manager, c.Logger)

	return c
}

// tokenSource prefers the environment token over the stored session.
type tokenSource struct {
	oauth *oauth.Client
}

func (t *tokenSource) Token() string {
	if tok := config.EnvToken(); tok != "" {
		return tok
	}
	if t.oauth == nil {
		return ""
	}
	return t.oauth.Token()
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "repodeploy",
	Short: "Deploy WordPress themes and plugins from GitHub",
	Long: `repodeploy installs WordPress themes and plugins straight from GitHub
repositories, keeps them up to date, switches branches and pushes local
edits back upstream.

Operations run through the git executable when it is available and fall
back to the GitHub REST API otherwise.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(serveCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
