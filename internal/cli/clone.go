package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/repodeploy/internal/core"
	"github.com/kilupskalvis/repodeploy/internal/models"
)

var cloneCmd = &cobra.Command{
	Use:   "clone <url>",
	Short: "Install a theme or plugin from GitHub",
	Long: `Install a GitHub repository as a WordPress theme or plugin.

The working directory is named after the repository, with the branch
appended for branches other than main and master. Themes get their
Theme Name header rewritten to match; plugins only when --name is given.

Examples:
  repodeploy clone https://github.com/acme/storefront
  repodeploy clone https://github.com/acme/storefront -b staging
  repodeploy clone https://github.com/acme/checkout --type plugin --name "Checkout"`,
	Args: cobra.ExactArgs(1),
	Run:  runClone,
}

var updateCmd = &cobra.Command{
	Use:   "update <repository>",
	Short: "Bring an installed repository up to date",
	Long: `Update an installed repository to the latest commit of its branch.

The repository is named by its folder, optionally qualified with its
type (theme/storefront, plugin/checkout).`,
	Args: cobra.ExactArgs(1),
	Run:  runUpdate,
}

var switchCmd = &cobra.Command{
	Use:   "switch <repository> <branch>",
	Short: "Switch an installed repository to another branch",
	Args:  cobra.ExactArgs(2),
	Run:   runSwitch,
}

var removeCmd = &cobra.Command{
	Use:     "remove <repository>",
	Aliases: []string{"rm"},
	Short:   "Delete an installed repository",
	Long:    `Delete the working directory of an installed repository and forget it.`,
	Args:    cobra.ExactArgs(1),
	Run:     runRemove,
}

var (
	cloneBranch   string
	cloneType     string
	cloneName     string
	cloneRepoName string
	opToken       string
	opJobID       string
)

func init() {
	f := cloneCmd.Flags()
	f.StringVarP(&cloneBranch, "branch", "b", "main", "Branch to install")
	f.StringVarP(&cloneType, "type", "t", string(models.RepoTypeTheme), "Repository type: theme or plugin")
	f.StringVar(&cloneName, "name", "", "Display name written into the theme or plugin header")
	f.StringVar(&cloneRepoName, "repo-name", "", "Repository name when it cannot be derived from the URL")

	for _, cmd := range []*cobra.Command{cloneCmd, updateCmd, switchCmd} {
		cmd.Flags().StringVar(&opToken, "token", "", "Access token (default: $REPODEPLOY_TOKEN or the stored session)")
		cmd.Flags().StringVar(&opJobID, "job-id", "", "Progress job id to report under")
	}
}

func runClone(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	repoType, err := models.ParseRepoType(cloneType)
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Cloning %s (%s)...\n", args[0], cloneBranch)

	res, err := c.Manager.Clone(context.Background(), core.CloneOptions{
		URL:        args[0],
		Branch:     cloneBranch,
		Type:       repoType,
		RepoName:   cloneRepoName,
		CustomName: cloneName,
		Token:      opToken,
		JobID:      opJobID,
	})
	if err != nil {
		exitOpError(err)
	}

	green := color.New(color.FgGreen)
	green.Printf("%s\n", res.Message)
	fmt.Printf("  %s %s\n", color.CyanString("folder:"), res.Handle)
	fmt.Printf("  %s %s\n", color.CyanString("path:  "), res.Path)
}

func runUpdate(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	res, err := c.Manager.Update(context.Background(), args[0], opToken, opJobID)
	if err != nil {
		exitOpError(err)
	}

	color.New(color.FgGreen).Printf("%s\n", res.Message)
}

func runSwitch(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	res, err := c.Manager.SwitchBranch(context.Background(), args[0], args[1], opToken, opJobID)
	if err != nil {
		exitOpError(err)
	}

	color.New(color.FgGreen).Printf("%s\n", res.Message)
}

func runRemove(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	repo, err := c.Manager.Remove(context.Background(), args[0])
	if err != nil {
		exitOpError(err)
	}

	fmt.Printf("Removed %s '%s'\n", repo.Type, repo.FolderName)
}

// exitOpError prints the raw backend diagnostics, when there are any,
// before exiting.
func exitOpError(err error) {
	var be *core.BackendError
	if errors.As(err, &be) && be.Result.Details != "" {
		yellow := color.New(color.FgYellow)
		yellow.Fprintf(os.Stderr, "%s\n", be.Result.Details)
	}
	exitError("%v", err)
}
