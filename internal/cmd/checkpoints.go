package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harnesslab/overseer/internal/checkpoint"
)

// NewCheckpointsCommand builds the checkpoints subcommand.
func NewCheckpointsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List recorded checkpoints, oldest first",
		RunE:  checkpointsCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <dir>/.overseer/config.yaml)")
	cmd.Flags().StringP("dir", "C", ".", "Project directory to operate on")

	return cmd
}

func checkpointsCommand(cmd *cobra.Command, args []string) error {
	workDir, _ := cmd.Flags().GetString("dir")
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, workDir)
	if err != nil {
		return err
	}

	manager, err := checkpoint.NewManager(resolveStateDir(cfg, workDir),
		checkpoint.NewGitSnapshotter(workDir), cfg.Rollback.ConsecutiveFailures, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	history := manager.History()
	if len(history) == 0 {
		fmt.Fprintln(out, "No checkpoints recorded.")
		return nil
	}
	for _, cp := range history {
		mark := " "
		if cp.Verified {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s  %.12s  task %s attempt %d  %s\n",
			mark, cp.ID, cp.CommitHash, cp.TaskID, cp.Attempt,
			cp.CreatedAt.Format("2006-01-02 15:04"))
	}
	if last := manager.LastGood(); last != nil {
		fmt.Fprintf(out, "Last good: %s (%.12s)\n", last.ID, last.CommitHash)
	}
	return nil
}
