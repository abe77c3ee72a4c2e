// Package logger provides the run loggers: a leveled console logger with
// color support and a per-run file logger. Both are safe for concurrent
// use.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harnesslab/overseer/internal/models"
)

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

// Console writes timestamped, optionally colorized progress lines.
// A nil writer discards everything.
type Console struct {
	writer io.Writer
	level  int
	color  bool
	mu     sync.Mutex
}

// NewConsole creates a Console logger. Invalid or empty levels default to
// info. Color is enabled only when the writer is a TTY.
func NewConsole(writer io.Writer, level string) *Console {
	return &Console{
		writer: writer,
		level:  parseLevel(level),
		color:  isTerminal(writer),
	}
}

func parseLevel(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *Console) log(level int, tag string, colorize *color.Color, format string, args ...any) {
	if c == nil || c.writer == nil || level < c.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	stamp := time.Now().Format("15:04:05")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.color && colorize != nil {
		fmt.Fprintf(c.writer, "[%s] %s %s\n", stamp, colorize.Sprintf("[%s]", tag), msg)
		return
	}
	fmt.Fprintf(c.writer, "[%s] [%s] %s\n", stamp, tag, msg)
}

func (c *Console) Tracef(format string, args ...any) {
	c.log(levelTrace, "TRACE", nil, format, args...)
}

func (c *Console) Debugf(format string, args ...any) {
	c.log(levelDebug, "DEBUG", nil, format, args...)
}

func (c *Console) Infof(format string, args ...any) {
	c.log(levelInfo, "INFO", color.New(color.FgCyan), format, args...)
}

func (c *Console) Warnf(format string, args ...any) {
	c.log(levelWarn, "WARN", color.New(color.FgYellow), format, args...)
}

func (c *Console) Errorf(format string, args ...any) {
	c.log(levelError, "ERROR", color.New(color.FgRed), format, args...)
}

// SessionStart announces a new agent session for a task.
func (c *Console) SessionStart(taskID string, attempt, ceiling int) {
	c.log(levelInfo, "RUN", color.New(color.FgGreen), "task %s: session started (attempt %d/%d)", taskID, attempt, ceiling)
}

// SessionEnd reports how a session finished.
func (c *Console) SessionEnd(taskID string, outcome models.Outcome, d time.Duration) {
	tag, col := "DONE", color.New(color.FgGreen)
	if outcome != models.OutcomeSuccess && outcome != models.OutcomeCompleted {
		tag, col = "FAIL", color.New(color.FgRed)
	}
	c.log(levelInfo, tag, col, "task %s: %s after %s", taskID, outcome, d.Round(time.Second))
}

// Stall reports a stall detection with its triggering rule.
func (c *Console) Stall(taskID, reason string) {
	c.log(levelWarn, "STALL", color.New(color.FgYellow), "task %s: %s", taskID, reason)
}

// Retry reports another attempt being scheduled.
func (c *Console) Retry(taskID string, attempt, ceiling int) {
	c.log(levelInfo, "RETRY", color.New(color.FgYellow), "task %s: attempt %d of %d", taskID, attempt, ceiling)
}

// Skip reports a task being abandoned after retry exhaustion.
func (c *Console) Skip(taskID string, attempts int) {
	c.log(levelWarn, "SKIP", color.New(color.FgYellow), "task %s: skipped after %d attempts", taskID, attempts)
}

// Rollback reports a restore to the last verified checkpoint.
func (c *Console) Rollback(checkpointID string) {
	c.log(levelWarn, "ROLLBACK", color.New(color.FgRed), "restored checkpoint %s", checkpointID)
}

// Summary prints the end-of-run totals, naming the tasks that did not
// complete.
func (c *Console) Summary(s models.RunSummary) {
	c.log(levelInfo, "SUMMARY", color.New(color.FgCyan),
		"completed %d, skipped %d, blocked %d, in progress %d, rollbacks %d (took %s)",
		len(s.Completed), len(s.Skipped), len(s.Blocked), len(s.InProgress),
		s.Rollbacks, s.Duration.Round(time.Second))
	if len(s.Skipped) > 0 {
		c.log(levelWarn, "SUMMARY", color.New(color.FgYellow), "skipped: %s", strings.Join(s.Skipped, ", "))
	}
	if len(s.Blocked) > 0 {
		c.log(levelWarn, "SUMMARY", color.New(color.FgYellow), "blocked: %s", strings.Join(s.Blocked, ", "))
	}
}
