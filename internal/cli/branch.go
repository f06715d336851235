package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed repositories",
	Args:    cobra.NoArgs,
	Run:     runList,
}

var branchCmd = &cobra.Command{
	Use:   "branch <repository>",
	Short: "Show the current branch of an installed repository",
	Args:  cobra.ExactArgs(1),
	Run:   runBranch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry statistics",
	Args:  cobra.NoArgs,
	Run:   runStats,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert legacy absolute paths to folder names",
	Long: `Rewrite registry rows that still carry an absolute local path so that
they are resolved by folder name under the configured content roots.
Running it again is harmless.`,
	Args: cobra.NoArgs,
	Run:  runMigrate,
}

func runList(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	repos, err := c.Manager.ListInstalled(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	if len(repos) == 0 {
		fmt.Println("No repositories installed")
		return
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	for _, r := range repos {
		fmt.Printf("%-7s %s", r.Type, r.FolderName)
		if r.CurrentBranch != "" {
			cyan.Printf(" [%s]", r.CurrentBranch)
		}
		switch {
		case !r.Exists:
			red.Printf(" (missing)")
		case !r.HasGit:
			yellow.Printf(" (no git data)")
		}
		fmt.Println()
		fmt.Printf("        %s\n", r.URL)
		if !r.LastUpdate.IsZero() {
			fmt.Printf("        updated %s\n", r.LastUpdate.Local().Format(time.DateTime))
		}
	}
}

func runBranch(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	branch, err := c.Manager.CurrentBranch(context.Background(), args[0])
	if err != nil {
		exitError("%v", err)
	}
	if branch == "" {
		exitError("could not determine the branch of '%s'", args[0])
	}
	fmt.Println(branch)
}

func runStats(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	stats, err := c.Manager.Stats()
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Repositories: %d\n", stats.Total)
	fmt.Printf("  Themes:     %d\n", stats.Themes)
	fmt.Printf("  Plugins:    %d\n", stats.Plugins)
}

func runMigrate(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	n, err := c.Manager.MigrateLegacyPaths()
	if err != nil {
		exitError("migration failed: %v", err)
	}

	if n == 0 {
		fmt.Println("Nothing to migrate")
		return
	}
	color.New(color.FgGreen).Printf("Migrated %d repositories\n", n)
}
