package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harnesslab/overseer/internal/canary"
	"github.com/harnesslab/overseer/internal/logger"
	"github.com/harnesslab/overseer/internal/models"
)

// NewCanaryCommand builds the canary subcommand.
func NewCanaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canary [task description]",
		Short: "Run a task against two refs in isolation and compare outcomes",
		Long: `Canary executes the same task on a control ref and a canary ref in
isolated worktrees, concurrently, then compares outputs, timing and
error lines. With --stats it summarizes past comparisons instead.

Examples:
  overseer canary "refactor the session pool" --control main --canary feature/pool
  overseer canary --stats`,
		RunE: canaryCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <dir>/.overseer/config.yaml)")
	cmd.Flags().StringP("dir", "C", ".", "Project directory to operate on")
	cmd.Flags().String("control", "HEAD", "Baseline ref")
	cmd.Flags().String("canary", "", "Candidate ref to compare against the baseline")
	cmd.Flags().Bool("stats", false, "Print aggregate results of past comparisons")

	return cmd
}

func canaryCommand(cmd *cobra.Command, args []string) error {
	workDir, _ := cmd.Flags().GetString("dir")
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, workDir)
	if err != nil {
		return err
	}
	stateDir := resolveStateDir(cfg, workDir)
	out := cmd.OutOrStdout()

	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		agg, log, err := canary.LoadStats(stateDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Comparisons: %d (pass %d, regression %d, inconclusive %d)\n",
			agg.Total, agg.Pass, agg.Regression, agg.Inconclusive)
		if agg.Total > 0 {
			fmt.Fprintf(out, "Mean diff score: %.2f\n", agg.MeanScore)
			last := log[len(log)-1]
			fmt.Fprintf(out, "Last: %s on task %s (%s vs %s) -> %s\n",
				last.ID, last.TaskID, last.ControlRef, last.CanaryRef, last.Verdict)
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("a task description is required unless --stats is given")
	}
	canaryRef, _ := cmd.Flags().GetString("canary")
	if canaryRef == "" {
		return fmt.Errorf("--canary ref is required")
	}
	controlRef, _ := cmd.Flags().GetString("control")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console := logger.NewConsole(os.Stdout, cfg.LogLevel)
	console.Infof("comparing %s against %s", canaryRef, controlRef)

	task := models.Task{ID: "canary", Description: args[0]}
	comparator := canary.NewComparator(stateDir, cfg.AgentCommand, cfg.Canary)
	result, err := comparator.Compare(ctx, task, controlRef, canaryRef, workDir)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Verdict: %s (diff score %.2f)\n", result.Verdict, result.DiffScore)
	fmt.Fprintf(out, "Control: %s in %s\n", result.ControlSummary, result.ControlDuration.Round(time.Millisecond))
	fmt.Fprintf(out, "Canary:  %s in %s\n", result.CanarySummary, result.CanaryDuration.Round(time.Millisecond))
	for _, r := range result.Regressions {
		fmt.Fprintf(out, "  - %s\n", r)
	}
	if result.Verdict == models.CanaryRegression {
		return fmt.Errorf("canary regressed against control")
	}
	return nil
}
