package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harnesslab/overseer/internal/pattern"
)

// NewPatternsCommand builds the patterns subcommand.
func NewPatternsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Show stored failure patterns and their weights",
		RunE:  patternsCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <dir>/.overseer/config.yaml)")
	cmd.Flags().StringP("dir", "C", ".", "Project directory to operate on")
	cmd.Flags().Int("top", 0, "Show only the N highest-weighted patterns")

	return cmd
}

func patternsCommand(cmd *cobra.Command, args []string) error {
	workDir, _ := cmd.Flags().GetString("dir")
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, workDir)
	if err != nil {
		return err
	}

	store, err := pattern.NewStore(
		filepath.Join(resolveStateDir(cfg, workDir), cfg.Patterns.DBPath), cfg.Patterns.DecayRate)
	if err != nil {
		return err
	}
	defer store.Close()

	var patterns []pattern.Pattern
	if top, _ := cmd.Flags().GetInt("top"); top > 0 {
		patterns, err = store.TopK(top)
	} else {
		patterns, err = store.All()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(patterns) == 0 {
		fmt.Fprintln(out, "No active patterns stored.")
		return nil
	}
	for _, p := range patterns {
		fmt.Fprintf(out, "%.2f  %s\n", p.Weight, p.Signature)
		if p.Resolution != "" {
			fmt.Fprintf(out, "      fix: %s\n", p.Resolution)
		}
		fmt.Fprintf(out, "      %d success, %d failure, last seen %s\n",
			p.SuccessCount, p.FailureCount, p.LastSeen.Format("2006-01-02"))
	}
	return nil
}
