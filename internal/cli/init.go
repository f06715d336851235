package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/config"
	"github.com/kilupskalvis/repodeploy/internal/mode"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/state"
	"github.com/kilupskalvis/repodeploy/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a repodeploy site",
	Long: `Initialize a repodeploy site in the current directory.
This creates a .repodeploy directory holding the configuration, the
repository registry and the operation state, and detects whether git
operations can run through the git executable.`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

var (
	initThemeRoot   string
	initPluginRoot  string
	initAPIURL      string
	initOAuthURL    string
	initBotName     string
	initBotAppID    int64
	initForceMode   string
	initDisableExec bool
)

func init() {
	def := config.Default()
	f := initCmd.Flags()
	f.StringVar(&initThemeRoot, "theme-root", def.ThemeRoot, "Theme directory, relative to the site")
	f.StringVar(&initPluginRoot, "plugin-root", def.PluginRoot, "Plugin directory, relative to the site")
	f.StringVar(&initAPIURL, "github-api-url", def.GitHubAPIURL, "GitHub REST API base URL")
	f.StringVar(&initOAuthURL, "oauth-service-url", "", "Token service base URL")
	f.StringVar(&initBotName, "bot-name", def.BotName, "Author name recorded on commits")
	f.Int64Var(&initBotAppID, "bot-app-id", 0, "GitHub App id used in the commit author email")
	f.StringVar(&initForceMode, "force-mode", def.ForceMode, "Git mode override: auto, cli or api")
	f.BoolVar(&initDisableExec, "disable-exec", false, "Never run the git executable")
}

func runInit(cmd *cobra.Command, args []string) {
	if _, err := config.FindRoot(); err == nil {
		exitError("repodeploy site already exists")
	}
	if _, ok := models.ParseForceMode(initForceMode); !ok {
		exitError("invalid --force-mode %q (must be auto, cli or api)", initForceMode)
	}

	dir, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Initializing repodeploy site...\n")

	cfg := config.Default()
	cfg.ThemeRoot = initThemeRoot
	cfg.PluginRoot = initPluginRoot
	cfg.GitHubAPIURL = initAPIURL
	cfg.OAuthServiceURL = initOAuthURL
	cfg.BotName = initBotName
	cfg.BotAppID = initBotAppID
	cfg.ForceMode = initForceMode
	cfg.DisableExec = initDisableExec

	cfg, err = config.Initialize(dir, cfg)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to create store: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(); err != nil {
		exitError("failed to initialize store: %v", err)
	}

	kv, err := state.New(cfg.StatePath())
	if err != nil {
		exitError("failed to create state: %v", err)
	}

	selector := mode.NewSelector(kv, backend.ExecRunner{}, cfg.DisableExec, cfg.Override(), zap.NewNop())
	m, reason, err := selector.Detect(context.Background())
	if err != nil {
		exitError("failed to detect git mode: %v", err)
	}

	fmt.Printf("Themes:  %s\n", cfg.ThemeDir())
	fmt.Printf("Plugins: %s\n", cfg.PluginDir())
	fmt.Printf("Git mode: %s (%s)\n", m, reason)

	green := color.New(color.FgGreen)
	green.Printf("\nInitialized repodeploy site in %s/\n", config.SiteDir)
}
