package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/progress"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Show or change how git operations run",
	Long: `Show or change how git operations run.

In cli mode the git executable is used; in api mode repositories are
downloaded as zipballs and commits are pushed through the Contents API.
Without a subcommand, shows the active mode.`,
	Run: runModeShow,
}

var modeDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe the environment again",
	Args:  cobra.NoArgs,
	Run:   runModeDetect,
}

var modeForceCmd = &cobra.Command{
	Use:       "force <auto|cli|api>",
	Short:     "Override the detected mode",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"auto", "cli", "api"},
	Run:       runModeForce,
}

var progressCmd = &cobra.Command{
	Use:   "progress <job-id>",
	Short: "Show the progress of a running operation",
	Args:  cobra.ExactArgs(1),
	Run:   runProgress,
}

var progressWatch bool

func init() {
	modeCmd.AddCommand(modeDetectCmd, modeForceCmd)
	progressCmd.Flags().BoolVarP(&progressWatch, "watch", "w", false, "Poll until the operation finishes")
}

func runModeShow(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	m, err := c.Modes.Mode(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	override, err := c.Modes.Override()
	if err != nil {
		exitError("%v", err)
	}
	reason, _ := c.Modes.Reason()

	fmt.Printf("Mode: %s\n", color.CyanString(string(m)))
	if override != models.ForceAuto {
		fmt.Printf("Forced by override '%s'\n", override)
	} else if reason != "" {
		fmt.Printf("Detected: %s\n", reason)
	}
}

func runModeDetect(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	m, reason, err := c.Modes.Detect(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Detected %s: %s\n", color.CyanString(string(m)), reason)

	if override, _ := c.Modes.Override(); override != models.ForceAuto {
		color.New(color.FgYellow).Printf("Override '%s' is active and takes precedence\n", override)
	}
}

func runModeForce(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	forced, _ := models.ParseForceMode(args[0])
	if err := c.Modes.Force(forced); err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	if forced == models.ForceAuto {
		green.Println("Mode override cleared")
		return
	}
	green.Printf("Mode forced to %s\n", forced)
}

func runProgress(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var last string
	for {
		p, err := progress.Get(c.State, args[0])
		if err != nil {
			exitError("%v", err)
		}

		line := fmt.Sprintf("[%3d%%] %-12s %s", p.Progress, p.Step, p.Message)
		if line != last {
			fmt.Println(line)
			last = line
		}
		if !progressWatch || p.Step.Terminal() {
			if p.Step == models.StepError {
				exitError("operation failed")
			}
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}
