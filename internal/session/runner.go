// Package session launches and supervises one external agent process per
// task, streaming structured events to an observer and enforcing the
// wall-clock timeout with a graceful-then-forceful termination ladder.
package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harnesslab/overseer/internal/models"
)

const (
	// DefaultTimeout is the hard wall-clock limit per session.
	DefaultTimeout = 60 * time.Minute

	// DefaultGrace is the wait between SIGTERM and SIGKILL.
	DefaultGrace = 5 * time.Second

	// maxScanTokenSize bounds a single event line (agents can emit large
	// tool results).
	maxScanTokenSize = 4 * 1024 * 1024
)

// Request describes one agent session to run.
type Request struct {
	Task models.Task

	// Hints are failure-pattern suggestions injected into the prompt.
	// They are hints, not constraints.
	Hints []string

	// Correction carries verification feedback for the single
	// self-correction session. Empty for normal sessions.
	Correction string

	// WorkDir is the repository the agent operates on.
	WorkDir string
}

// Runner executes agent sessions. One invocation is active at a time per
// working tree; the canary comparator uses two Runners over two isolated
// worktrees.
type Runner struct {
	// AgentCommand is the agent CLI binary.
	AgentCommand string

	// ExtraArgs are appended to the generated arguments, mainly for tests.
	ExtraArgs []string

	Timeout time.Duration
	Grace   time.Duration

	// Registry tracks the spawned process for program-level cleanup.
	Registry *Registry
}

// NewRunner creates a Runner with defaults applied.
func NewRunner(agentCommand string, registry *Registry) *Runner {
	return &Runner{
		AgentCommand: agentCommand,
		Timeout:      DefaultTimeout,
		Grace:        DefaultGrace,
		Registry:     registry,
	}
}

// Run launches the agent process for the request and streams events to
// observe (which may be nil) as they arrive. Timeouts, stalls and crashes
// are reported through the result outcome, not as errors; an error means
// the process could not be launched at all.
func (r *Runner) Run(ctx context.Context, req Request, observe func(Event)) (*models.SessionResult, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	result := &models.SessionResult{
		SessionID: fmt.Sprintf("session-%s", uuid.NewString()[:8]),
		TaskID:    req.Task.ID,
	}

	args := r.buildArgs(req)
	cmd := exec.Command(r.AgentCommand, args...)
	cmd.Dir = req.WorkDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open agent stdout: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %s: %w", r.AgentCommand, err)
	}

	if r.Registry != nil {
		r.Registry.Register(cmd)
		defer r.Registry.Unregister(cmd.Process.Pid)
	}

	var output strings.Builder
	events := 0

	// Stream events as they arrive; this is a push interface, the caller
	// never polls.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)
		for scanner.Scan() {
			ev := ParseEvent(scanner.Bytes(), time.Now())
			events++
			if ev.Text != "" {
				output.WriteString(ev.Text)
				output.WriteString("\n")
			}
			if observe != nil {
				observe(ev)
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() {
		<-readDone
		waitDone <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitDone:
		result.Outcome = outcomeFromExit(waitErr, result)

	case <-timer.C:
		terminate(cmd.Process, grace)
		waitErr = <-waitDone
		result.Outcome = models.OutcomeTimeout
		result.ErrorText = fmt.Sprintf("session exceeded %v wall-clock limit", timeout)

	case <-ctx.Done():
		terminate(cmd.Process, grace)
		waitErr = <-waitDone
		if errors.Is(context.Cause(ctx), models.ErrStallDetected) {
			result.Outcome = models.OutcomeStalled
			result.ErrorText = context.Cause(ctx).Error()
		} else {
			result.Outcome = models.OutcomeCancelled
			result.ErrorText = "session cancelled"
		}
	}

	result.Duration = time.Since(start)
	result.Output = output.String()
	result.Events = events
	if result.ErrorText == "" && stderr.Len() > 0 && result.Outcome != models.OutcomeCompleted {
		result.ErrorText = tail(stderr.String(), 2000)
	}

	return result, nil
}

// buildArgs constructs the agent CLI arguments: non-interactive print mode
// with a streamed JSON event format.
func (r *Runner) buildArgs(req Request) []string {
	args := []string{
		"-p", buildPrompt(req),
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
	}
	return append(args, r.ExtraArgs...)
}

// buildPrompt combines the task description with injected pattern hints
// and, for self-correction sessions, the verification feedback.
func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(req.Task.Description)

	if len(req.Hints) > 0 {
		sb.WriteString("\n\n## Known failure patterns from previous runs\n")
		sb.WriteString("These are hints from earlier sessions, not requirements.\n\n")
		for _, h := range req.Hints {
			sb.WriteString(h)
			sb.WriteString("\n")
		}
	}

	if req.Correction != "" {
		sb.WriteString("\n\n## Verification feedback\n")
		sb.WriteString("The previous attempt failed verification. Fix the following:\n\n")
		sb.WriteString(req.Correction)
	}

	return sb.String()
}

// outcomeFromExit maps a process exit to a session outcome.
func outcomeFromExit(waitErr error, result *models.SessionResult) models.Outcome {
	if waitErr == nil {
		return models.OutcomeCompleted
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	result.ErrorText = waitErr.Error()
	return models.OutcomeCrashed
}

func tail(s string, n int) string {
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
