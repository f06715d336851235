package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/repodeploy/internal/oauth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the token service session",
	Long: `Manage the session with the token service that issues GitHub access
tokens for repodeploy.

$REPODEPLOY_TOKEN, when set, takes precedence over the stored session.`,
}

var authSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store a session token",
	Long: `Store a session token and, optionally, a refresh token.
The session token is read from stdin for security (not passed as an argument).

Examples:
  repodeploy auth set-token                       # prompts for token
  echo "$SESSION" | repodeploy auth set-token --refresh-token "$REFRESH"`,
	Args: cobra.NoArgs,
	Run:  runAuthSetToken,
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new session",
	Args:  cobra.NoArgs,
	Run:   runAuthRefresh,
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the connected GitHub user",
	Args:  cobra.NoArgs,
	Run:   runAuthWhoami,
}

var authReposCmd = &cobra.Command{
	Use:   "repos [owner]",
	Short: "List repositories reachable with the session",
	Long: `List repositories reachable with the session.

Without an owner, lists the repositories of every app installation.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runAuthRepos,
}

var authBranchesCmd = &cobra.Command{
	Use:   "branches <owner/repo>",
	Short: "List branches of a repository",
	Args:  cobra.ExactArgs(1),
	Run:   runAuthBranches,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	Run:   runAuthLogout,
}

var (
	authRefreshToken string
	authOwnerType    string
)

func init() {
	authSetTokenCmd.Flags().StringVar(&authRefreshToken, "refresh-token", "", "Refresh token to store alongside the session")
	authReposCmd.Flags().StringVar(&authOwnerType, "owner-type", "User", "Owner type: User or Organization")

	authCmd.AddCommand(authSetTokenCmd, authRefreshCmd, authWhoamiCmd, authReposCmd, authBranchesCmd, authLogoutCmd)
}

func requireService(c *cmdContext) {
	if c.Config.OAuthServiceURL == "" {
		exitError("oauth_service_url is not configured")
	}
}

func runAuthSetToken(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	fmt.Fprintf(os.Stderr, "Enter session token: ")

	reader := bufio.NewReader(os.Stdin)
	token, err := reader.ReadString('\n')
	if err != nil && token == "" {
		exitError("failed to read token: %v", err)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		exitError("token cannot be empty")
	}

	if err := c.OAuth.SetTokens(token, authRefreshToken); err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Println("Session token stored")
}

func runAuthRefresh(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	requireService(c)

	if err := c.OAuth.Refresh(context.Background()); err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Println("Session refreshed")
}

func runAuthWhoami(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	requireService(c)

	if !c.OAuth.Connected() {
		exitError("%v", oauth.ErrNotConnected)
	}

	user, err := c.OAuth.UserInfo(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Logged in as %s\n", color.CyanString(user.Login))
	if user.Name != "" {
		fmt.Printf("  name:  %s\n", user.Name)
	}
	if user.Email != "" {
		fmt.Printf("  email: %s\n", user.Email)
	}
}

func runAuthRepos(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	requireService(c)

	ctx := context.Background()

	if len(args) == 1 {
		repos, err := c.OAuth.Repositories(ctx, args[0], authOwnerType)
		if err != nil {
			exitError("%v", err)
		}
		for _, r := range repos {
			printRemoteRepo(r.FullName, r.DefaultBranch, r.Private)
		}
		return
	}

	installations, err := c.OAuth.Installations(ctx)
	if err != nil {
		exitError("%v", err)
	}
	if len(installations) == 0 {
		fmt.Println("No installations found")
		return
	}

	for _, inst := range installations {
		color.New(color.FgYellow).Printf("%s (%s, installation %d)\n", inst.Account, inst.Type, inst.ID)
		repos, err := c.OAuth.InstallationRepositories(ctx, inst.ID)
		if err != nil {
			exitError("%v", err)
		}
		for _, r := range repos {
			printRemoteRepo(r.FullName, r.DefaultBranch, r.Private)
		}
	}
}

func printRemoteRepo(fullName, defaultBranch string, private bool) {
	fmt.Printf("  %s", fullName)
	if defaultBranch != "" {
		fmt.Printf(" [%s]", defaultBranch)
	}
	if private {
		fmt.Printf(" %s", color.New(color.Faint).Sprint("private"))
	}
	fmt.Println()
}

func runAuthBranches(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	requireService(c)

	owner, repo, ok := strings.Cut(args[0], "/")
	if !ok || owner == "" || repo == "" {
		exitError("expected owner/repo, got %q", args[0])
	}

	branches, err := c.OAuth.Branches(context.Background(), owner, repo)
	if err != nil {
		exitError("%v", err)
	}

	def := oauth.DefaultBranch(branches)
	green := color.New(color.FgGreen)
	for _, b := range branches {
		if b.Name == def {
			green.Printf("* %s\n", b.Name)
		} else {
			fmt.Printf("  %s\n", b.Name)
		}
	}
}

func runAuthLogout(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if err := c.OAuth.Disconnect(); err != nil {
		exitError("%v", err)
	}
	fmt.Println("Session removed")
}
