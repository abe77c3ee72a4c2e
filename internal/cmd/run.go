package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harnesslab/overseer/internal/config"
	"github.com/harnesslab/overseer/internal/graph"
	"github.com/harnesslab/overseer/internal/logger"
	"github.com/harnesslab/overseer/internal/orchestrator"
	"github.com/harnesslab/overseer/internal/retry"
	"github.com/harnesslab/overseer/internal/worklist"
)

// NewRunCommand builds the run subcommand.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <work-list>",
		Short: "Execute a work list of tasks through supervised agent sessions",
		Long: `Run loads a work list (YAML or Markdown backlog), seeds the task
dependency graph, and executes ready tasks one at a time through the
agent CLI. State lives under the project's .overseer/ directory, so an
interrupted run resumes where it left off.

Examples:
  overseer run tasks.yaml
  overseer run BACKLOG.md --agent claude --timeout 30m
  overseer run tasks.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <dir>/.overseer/config.yaml)")
	cmd.Flags().StringP("dir", "C", ".", "Project directory to operate on")
	cmd.Flags().String("agent", "", "Agent CLI command (overrides config)")
	cmd.Flags().Duration("timeout", 0, "Per-session wall-clock limit (overrides config)")
	cmd.Flags().Int("retry-ceiling", 0, "Attempts per task before skipping (overrides config)")
	cmd.Flags().Int("inject-count", -1, "Failure-pattern hints injected per session (overrides config)")
	cmd.Flags().String("log-level", "", "Console verbosity: trace, debug, info, warn, error")
	cmd.Flags().Bool("dry-run", false, "Seed and validate the graph, print the schedule, run nothing")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	workDir, _ := cmd.Flags().GetString("dir")
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, workDir)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	console := logger.NewConsole(os.Stdout, cfg.LogLevel)
	stateDir := resolveStateDir(cfg, workDir)

	tasks, err := worklist.Load(args[0])
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("work list %s contains no tasks", args[0])
	}

	g, err := graph.New(stateDir)
	if err != nil {
		return err
	}
	source := orchestrator.NewGraphSource(g)
	if err := source.Seed(tasks); err != nil {
		return err
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		return printSchedule(cmd, g)
	}

	tracker, err := retry.NewTracker(stateDir, cfg.RetryCeiling)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(cfg, workDir, source, tracker, console)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	if len(summary.Skipped) > 0 || len(summary.Blocked) > 0 {
		return fmt.Errorf("%d task(s) skipped, %d blocked", len(summary.Skipped), len(summary.Blocked))
	}
	return nil
}

func loadConfig(cmd *cobra.Command, workDir string) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadConfig(path)
	}
	return config.LoadConfigFromDir(workDir)
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	var agent *string
	if v, _ := cmd.Flags().GetString("agent"); v != "" {
		agent = &v
	}
	var timeout *time.Duration
	if v, _ := cmd.Flags().GetDuration("timeout"); v > 0 {
		timeout = &v
	}
	var ceiling *int
	if v, _ := cmd.Flags().GetInt("retry-ceiling"); v > 0 {
		ceiling = &v
	}
	var inject *int
	if v, _ := cmd.Flags().GetInt("inject-count"); v >= 0 {
		inject = &v
	}
	cfg.MergeWithFlags(agent, timeout, ceiling, inject)

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
}

func resolveStateDir(cfg *config.Config, workDir string) string {
	if filepath.IsAbs(cfg.StateDir) {
		return cfg.StateDir
	}
	return filepath.Join(workDir, cfg.StateDir)
}

// printSchedule reports what would run, in order, and what is blocked.
func printSchedule(cmd *cobra.Command, g *graph.Graph) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Ready tasks, in execution order:")
	for _, t := range g.ReadyTasks() {
		fmt.Fprintf(out, "  %s\n", t.ID)
	}
	blocked := g.BlockedTasks()
	if len(blocked) > 0 {
		fmt.Fprintln(out, "Blocked tasks:")
		for _, b := range blocked {
			note := ""
			if b.Terminal {
				note = " (will never run)"
			}
			fmt.Fprintf(out, "  %s waiting on %s%s\n", b.Task.ID, b.BlockingID, note)
		}
	}
	return nil
}
