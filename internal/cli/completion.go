package cli

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/repodeploy/internal/config"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/store"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for repodeploy.

Repository arguments of update, switch, remove, branch and commit complete
to the themes and plugins registered for the site containing the current
directory.

To load completions:

Bash:
  $ source <(repodeploy completion bash)
  # Or add to ~/.bashrc:
  $ echo 'source <(repodeploy completion bash)' >> ~/.bashrc

Zsh:
  $ source <(repodeploy completion zsh)
  # Or add to ~/.zshrc:
  $ echo 'source <(repodeploy completion zsh)' >> ~/.zshrc

Fish:
  $ repodeploy completion fish > ~/.config/fish/completions/repodeploy.fish

PowerShell:
  PS> repodeploy completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		default:
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	for _, cmd := range []*cobra.Command{updateCmd, switchCmd, removeCmd, branchCmd, commitCmd} {
		cmd.ValidArgsFunction = completeRepository
	}
}

// completeRepository offers registered repositories for the first argument.
// It reads the registry directly and stays silent when the site is not set
// up, since completion must never print errors into the shell.
func completeRepository(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer st.Close()

	repos, err := st.ListRepositories()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return repositoryCandidates(repos, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// repositoryCandidates returns the identifiers matching prefix. A folder
// registered under both roots is offered only in its qualified forms so
// the choice is explicit.
func repositoryCandidates(repos []*models.Repository, prefix string) []string {
	byFolder := make(map[string][]models.RepoType)
	for _, repo := range repos {
		folder := repo.FolderName
		if folder == "" {
			folder = filepath.Base(filepath.Clean(repo.LocalPath))
		}
		if folder == "" || folder == "." || folder == string(filepath.Separator) {
			continue
		}
		byFolder[folder] = append(byFolder[folder], repo.Type)
	}

	var out []string
	add := func(s, desc string) {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s+"\t"+desc)
		}
	}
	for folder, types := range byFolder {
		if len(types) == 1 {
			add(folder, string(types[0]))
			continue
		}
		for _, t := range types {
			add(string(t)+"/"+folder, string(t))
		}
	}
	sort.Strings(out)
	return out
}

