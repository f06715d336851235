package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/models"
)

var commitCmd = &cobra.Command{
	Use:   "commit <repository>",
	Short: "Commit and push local changes",
	Long: `Commit local changes of an installed repository and push them upstream.

The commit is recorded in the commit queue first. A failed push stays
queued and is retried by 'repodeploy queue process' or the server.

In API mode exactly one file is pushed per commit and --file is required.

Examples:
  repodeploy commit storefront -m "Tweak header"
  repodeploy commit theme/storefront --file header.php`,
	Args: cobra.ExactArgs(1),
	Run:  runCommit,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and process the commit queue",
	Long: `Inspect and process the commit queue.

Without a subcommand, lists all queued commits.`,
	Run: runQueueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Attempt a queued commit again",
	Args:  cobra.ExactArgs(1),
	Run:   runQueueRetry,
}

var queueDeleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete queued commits",
	Args:    cobra.MinimumNArgs(1),
	Run:     runQueueDelete,
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Retry every pending commit",
	Args:  cobra.NoArgs,
	Run:   runQueueProcess,
}

var (
	commitMessage string
	commitFile    string
	queueStatus   string
)

func init() {
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message")
	commitCmd.Flags().StringVarP(&commitFile, "file", "f", "", "File to commit, relative to the repository")

	queueCmd.Flags().StringVar(&queueStatus, "status", "", "Only show items with this status: pending, failed or completed")

	queueCmd.AddCommand(queueRetryCmd, queueDeleteCmd, queueProcessCmd)
}

func runCommit(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	var file *string
	if cmd.Flags().Changed("file") {
		file = &commitFile
	}

	item, res, err := c.Queue.Enqueue(context.Background(), args[0], commitMessage, file)
	if err != nil {
		exitError("%v", err)
	}

	printCommitResult(item, res)
	if !res.Success {
		exitError("%s", res.Error)
	}
}

func runQueueList(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	items, err := c.Queue.List(models.QueueStatus(queueStatus))
	if err != nil {
		exitError("%v", err)
	}

	if len(items) == 0 {
		fmt.Println("Commit queue is empty")
		return
	}

	for _, item := range items {
		fmt.Printf("%-5d %s  %-20s %s", item.ID, statusLabel(item.Status), item.FolderName, item.Message)
		if item.FilePath != nil && *item.FilePath != "" {
			fmt.Printf(" (%s)", *item.FilePath)
		}
		fmt.Println()
		fmt.Printf("      attempts %d, queued %s\n", item.Attempts, item.CreatedAt.Local().Format(time.DateTime))
		if item.LastError != "" {
			color.New(color.FgRed).Printf("      %s\n", item.LastError)
		}
	}
}

func runQueueRetry(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	id := parseQueueID(args[0])
	res, err := c.Queue.Retry(context.Background(), id)
	if err != nil {
		exitError("%v", err)
	}

	item, err := c.Queue.Get(id)
	if err != nil {
		exitError("%v", err)
	}

	printCommitResult(item, res)
	if !res.Success {
		exitError("%s", res.Error)
	}
}

func runQueueDelete(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	ids := make([]int64, 0, len(args))
	for _, a := range args {
		ids = append(ids, parseQueueID(a))
	}

	n, err := c.Queue.BulkDelete(ids)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted %d queue items\n", n)
}

func runQueueProcess(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	attempted, succeeded, err := c.Queue.ProcessPending(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	if attempted == 0 {
		fmt.Println("No pending commits")
		return
	}
	fmt.Printf("Processed %d pending commits: ", attempted)
	color.New(color.FgGreen).Printf("%d pushed", succeeded)
	if failed := attempted - succeeded; failed > 0 {
		fmt.Print(", ")
		color.New(color.FgRed).Printf("%d failed", failed)
	}
	fmt.Println()
}

func printCommitResult(item *models.QueueItem, res backend.Result) {
	if res.Success {
		green := color.New(color.FgGreen)
		if res.Message != "" {
			green.Printf("%s\n", res.Message)
		} else {
			green.Println("Changes pushed successfully")
		}
		if res.Commit != nil {
			fmt.Printf("  commit %s\n", shortID(res.Commit.SHA))
		}
		return
	}

	if res.Details != "" {
		color.New(color.FgYellow).Printf("%s\n", res.Details)
	}
	if item != nil {
		fmt.Printf("Queue item %d is %s after %d attempts\n", item.ID, item.Status, item.Attempts)
	}
}

func statusLabel(s models.QueueStatus) string {
	label := fmt.Sprintf("%-9s", s)
	switch s {
	case models.QueueCompleted:
		return color.GreenString(label)
	case models.QueueFailed:
		return color.RedString(label)
	default:
		return color.YellowString(label)
	}
}

func parseQueueID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		exitError("invalid queue item id %q", s)
	}
	return id
}
