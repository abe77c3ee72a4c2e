// Package canary runs the same task against two refs of the repository in
// isolated worktrees and compares the outcomes to catch regressions an
// in-place run would hide.
package canary

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRunner executes git in a directory. Injected for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGitRunner shells out to git.
type ExecGitRunner struct{}

func (ExecGitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Worktree is one isolated checkout of a ref.
type Worktree struct {
	Path string
	Ref  string

	repoDir string
	git     GitRunner
	cloned  bool
}

// NewWorktree checks out ref into a temporary directory using git
// worktree, falling back to a local clone when the worktree command is
// unavailable (old git, or repoDir already is a worktree).
func NewWorktree(ctx context.Context, git GitRunner, repoDir, ref, label string) (*Worktree, error) {
	dir, err := os.MkdirTemp("", "overseer-canary-"+label+"-")
	if err != nil {
		return nil, fmt.Errorf("create canary dir: %w", err)
	}
	// git worktree add refuses an existing directory unless empty; use a
	// child path so MkdirTemp owns the parent for cleanup.
	path := filepath.Join(dir, "tree")

	wt := &Worktree{Path: path, Ref: ref, repoDir: repoDir, git: git}
	if _, err := git.Run(ctx, repoDir, "worktree", "add", "--detach", path, ref); err == nil {
		return wt, nil
	}

	if _, err := git.Run(ctx, repoDir, "clone", "--no-hardlinks", repoDir, path); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("isolate ref %s: %w", ref, err)
	}
	if _, err := git.Run(ctx, path, "checkout", "--detach", ref); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("checkout ref %s: %w", ref, err)
	}
	wt.cloned = true
	return wt, nil
}

// Remove tears the worktree down. Always called, including on comparison
// failure, so stale canary trees never accumulate.
func (w *Worktree) Remove(ctx context.Context) error {
	if !w.cloned {
		// Unregister from the main repo first so git does not keep a
		// dangling worktree record.
		_, _ = w.git.Run(ctx, w.repoDir, "worktree", "remove", "--force", w.Path)
	}
	return os.RemoveAll(filepath.Dir(w.Path))
}
