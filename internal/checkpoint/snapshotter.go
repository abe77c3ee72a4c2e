package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes a command in a directory and returns combined
// output. Injected for testing.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// Run executes the command and returns combined output.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Snapshotter abstracts the version-control snapshot/restore primitives.
// The core only needs "create a restorable point" and "restore to a given
// point"; GitSnapshotter is the default implementation.
type Snapshotter interface {
	// Snapshot stages everything and commits, returning the commit hash.
	// An unchanged tree still produces a restorable point.
	Snapshot(ctx context.Context, message string) (string, error)

	// Restore resets the working tree to the given commit, discarding
	// any changes made since.
	Restore(ctx context.Context, commitHash string) error

	// Head returns the current commit hash.
	Head(ctx context.Context) (string, error)
}

// GitSnapshotter implements Snapshotter with git commands.
type GitSnapshotter struct {
	WorkDir string
	Runner  CommandRunner
}

// NewGitSnapshotter creates a GitSnapshotter for the given working tree.
func NewGitSnapshotter(workDir string) *GitSnapshotter {
	return &GitSnapshotter{WorkDir: workDir, Runner: ExecRunner{}}
}

// Snapshot commits the current tree state.
func (g *GitSnapshotter) Snapshot(ctx context.Context, message string) (string, error) {
	if _, err := g.Runner.Run(ctx, g.WorkDir, "git", "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	// --allow-empty so a verified state with no tree changes still gets a
	// restorable point.
	if _, err := g.Runner.Run(ctx, g.WorkDir, "git", "commit", "--allow-empty", "-m", message); err != nil {
		return "", fmt.Errorf("commit snapshot: %w", err)
	}
	return g.Head(ctx)
}

// Restore resets the working tree to the given commit.
func (g *GitSnapshotter) Restore(ctx context.Context, commitHash string) error {
	if commitHash == "" {
		return fmt.Errorf("commit hash cannot be empty")
	}
	if _, err := g.Runner.Run(ctx, g.WorkDir, "git", "reset", "--hard", commitHash); err != nil {
		return fmt.Errorf("restore %s: %w", commitHash, err)
	}
	return nil
}

// Head returns the current commit hash.
func (g *GitSnapshotter) Head(ctx context.Context) (string, error) {
	out, err := g.Runner.Run(ctx, g.WorkDir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// commitMessage builds the snapshot commit message with a metadata trailer
// so checkpoints are identifiable in plain git history.
func commitMessage(taskID string, attempt int, verified bool) string {
	meta := map[string]any{
		"task_id":   taskID,
		"attempt":   attempt,
		"verified":  verified,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	blob, _ := json.Marshal(meta)
	status := "verified"
	if !verified {
		status = "unverified"
	}
	return fmt.Sprintf("checkpoint: task %s attempt %d (%s)\n\n[overseer-checkpoint]\n%s",
		taskID, attempt, status, blob)
}

var _ Snapshotter = (*GitSnapshotter)(nil)
