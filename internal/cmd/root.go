// Package cmd defines the overseer CLI surface.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand builds the root command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overseer",
		Short: "Session orchestration and recovery for coding-agent runs",
		Long: `Overseer supervises external coding-agent sessions over a task
dependency graph: it detects stalled sessions, verifies change sets,
checkpoints verified-good states, rolls back after repeated failures,
and carries failure patterns across runs.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewCanaryCommand())
	cmd.AddCommand(NewPatternsCommand())
	cmd.AddCommand(NewCheckpointsCommand())

	return cmd
}
