package verify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner executes a shell command in a directory and returns
// combined output. Injected for testing.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (string, error)
}

// ShellRunner runs commands through the shell.
type ShellRunner struct{}

// Run executes the command via sh -c and returns combined output.
func (ShellRunner) Run(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// DiffStats summarizes the working-tree change set relative to the last
// checkpoint.
type DiffStats struct {
	Added   int
	Deleted int

	// BinaryFiles lists changed files git reports as binary.
	BinaryFiles []string

	// Files lists all changed paths.
	Files []string
}

// Ratio returns deleted/added. Pure deletions (zero added) return the
// deleted count itself so mass removals are never masked.
func (s DiffStats) Ratio() float64 {
	if s.Added == 0 {
		return float64(s.Deleted)
	}
	return float64(s.Deleted) / float64(s.Added)
}

// DiffAnalyzer inspects the uncommitted change set of a working tree.
type DiffAnalyzer struct {
	WorkDir string
	Runner  CommandRunner
}

// NewDiffAnalyzer creates an analyzer for the given working tree.
func NewDiffAnalyzer(workDir string) *DiffAnalyzer {
	return &DiffAnalyzer{WorkDir: workDir, Runner: ShellRunner{}}
}

// Stats collects numstat totals for the uncommitted change set.
// Untracked files are registered with --intent-to-add first so new files
// show up in the diff without being staged.
func (a *DiffAnalyzer) Stats(ctx context.Context) (*DiffStats, error) {
	// Errors here are non-fatal on purpose: a bare repo with no HEAD
	// still diffs against the empty tree below.
	_, _ = a.Runner.Run(ctx, a.WorkDir, "git add -A --intent-to-add")

	out, err := a.Runner.Run(ctx, a.WorkDir, "git diff --numstat HEAD")
	if err != nil {
		// No HEAD yet (fresh repo): diff against the empty tree.
		out, err = a.Runner.Run(ctx, a.WorkDir, "git diff --numstat")
		if err != nil {
			return nil, fmt.Errorf("git diff failed: %w", err)
		}
	}

	stats := &DiffStats{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		path := fields[2]
		stats.Files = append(stats.Files, path)

		// git reports "-" counts for binary files.
		if fields[0] == "-" || fields[1] == "-" {
			stats.BinaryFiles = append(stats.BinaryFiles, path)
			continue
		}
		if n, err := strconv.Atoi(fields[0]); err == nil {
			stats.Added += n
		}
		if n, err := strconv.Atoi(fields[1]); err == nil {
			stats.Deleted += n
		}
	}
	return stats, nil
}

// AddedLines returns the added lines of the uncommitted diff, for secret
// scanning. Each entry is (file, line content without the leading '+').
func (a *DiffAnalyzer) AddedLines(ctx context.Context) ([]AddedLine, error) {
	out, err := a.Runner.Run(ctx, a.WorkDir, "git diff HEAD")
	if err != nil {
		out, err = a.Runner.Run(ctx, a.WorkDir, "git diff")
		if err != nil {
			return nil, fmt.Errorf("git diff failed: %w", err)
		}
	}

	var lines []AddedLine
	currentFile := ""
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			currentFile = strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			lines = append(lines, AddedLine{File: currentFile, Text: line[1:]})
		}
	}
	return lines, nil
}

// AddedLine is one added line from the change set.
type AddedLine struct {
	File string
	Text string
}

// Summary returns a human-readable diff stat block for logs and
// self-correction feedback.
func (a *DiffAnalyzer) Summary(ctx context.Context) string {
	out, err := a.Runner.Run(ctx, a.WorkDir, "git diff --stat HEAD")
	if err != nil || strings.TrimSpace(out) == "" {
		return "no changes"
	}
	return strings.TrimSpace(out)
}
