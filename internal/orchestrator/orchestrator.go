package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harnesslab/overseer/internal/checkpoint"
	"github.com/harnesslab/overseer/internal/config"
	"github.com/harnesslab/overseer/internal/logger"
	"github.com/harnesslab/overseer/internal/models"
	"github.com/harnesslab/overseer/internal/pattern"
	"github.com/harnesslab/overseer/internal/retry"
	"github.com/harnesslab/overseer/internal/session"
	"github.com/harnesslab/overseer/internal/stall"
	"github.com/harnesslab/overseer/internal/verify"
)

// stallPollInterval is how often the monitor goroutine re-evaluates the
// stall rules during a session.
const stallPollInterval = 5 * time.Second

// Orchestrator owns one run over one working tree.
type Orchestrator struct {
	cfg     *config.Config
	workDir string

	source      Source
	tracker     *retry.Tracker
	patterns    *pattern.Store // nil when disabled or unavailable
	checkpoints *checkpoint.Manager
	pipeline    *verify.Pipeline
	registry    *session.Registry
	runner      *session.Runner

	console *logger.Console
	fileLog *logger.FileLogger

	// lastFailure remembers the most recent failure signature per task so
	// a later success can be recorded as its resolution.
	lastFailure map[string]string

	rollbacks int
}

// New wires an Orchestrator from config. The pattern store degrades to
// nil on open failure; everything else failing to initialize is fatal.
func New(cfg *config.Config, workDir string, source Source, tracker *retry.Tracker, console *logger.Console) (*Orchestrator, error) {
	stateDir := cfg.StateDir
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(workDir, stateDir)
	}

	var store *pattern.Store
	if cfg.Patterns.Enabled {
		var err error
		store, err = pattern.NewStore(filepath.Join(stateDir, cfg.Patterns.DBPath), cfg.Patterns.DecayRate)
		if err != nil {
			console.Warnf("pattern store unavailable, continuing without hints: %v", err)
			store = nil
		}
	}

	manager, err := checkpoint.NewManager(stateDir, checkpoint.NewGitSnapshotter(workDir),
		cfg.Rollback.ConsecutiveFailures, console)
	if err != nil {
		return nil, err
	}

	fileLog, err := logger.NewFileLogger(filepath.Join(stateDir, "logs"))
	if err != nil {
		console.Warnf("run log unavailable: %v", err)
	}

	registry := session.NewRegistry()
	runner := session.NewRunner(cfg.AgentCommand, registry)
	runner.Timeout = cfg.SessionTimeout
	runner.Grace = cfg.GracePeriod

	return &Orchestrator{
		cfg:         cfg,
		workDir:     workDir,
		source:      source,
		tracker:     tracker,
		patterns:    store,
		checkpoints: manager,
		pipeline:    verify.NewPipeline(workDir, cfg.Verify),
		registry:    registry,
		runner:      runner,
		console:     console,
		fileLog:     fileLog,
		lastFailure: make(map[string]string),
	}, nil
}

// Run executes tasks until the source is exhausted, the context is
// cancelled, or a rollback leaves the tree in a state that must not be
// built upon. Every spawned agent process is terminated before return.
func (o *Orchestrator) Run(ctx context.Context) (models.RunSummary, error) {
	start := time.Now()
	defer o.registry.Shutdown(o.cfg.GracePeriod)
	defer o.patterns.Close()
	defer o.fileLog.Close()

	var runErr error
	for ctx.Err() == nil && !o.source.Done() {
		task, ok := o.source.NextReady()
		if !ok {
			// Remaining tasks are blocked on skipped or missing deps.
			break
		}
		if err := o.runTask(ctx, task); err != nil {
			runErr = err
			break
		}
	}

	summary := o.summarize(time.Since(start))
	o.console.Summary(summary)
	o.fileLog.Writef("run finished: completed=%d skipped=%d blocked=%d rollbacks=%d err=%v",
		len(summary.Completed), len(summary.Skipped), len(summary.Blocked), summary.Rollbacks, runErr)
	return summary, runErr
}

// runTask supervises one task through session, verification and
// bookkeeping. Only rollback failures and fatal rollbacks propagate.
func (o *Orchestrator) runTask(ctx context.Context, task *models.Task) error {
	if !o.tracker.CanRetry(task.ID) {
		return o.skip(task.ID)
	}

	attempt := o.tracker.Attempts(task.ID) + 1
	o.console.SessionStart(task.ID, attempt, o.tracker.Ceiling())
	o.fileLog.Writef("task %s: attempt %d", task.ID, attempt)

	if err := o.source.MarkStarted(task.ID); err != nil {
		return err
	}

	result := o.runSession(ctx, session.Request{
		Task:    *task,
		Hints:   o.hints(),
		WorkDir: o.workDir,
	})
	o.console.SessionEnd(task.ID, result.Outcome, result.Duration)

	success := false
	switch result.Outcome {
	case models.OutcomeCompleted:
		verified, err := o.verifyAndCorrect(ctx, task, result)
		if err != nil {
			o.console.Warnf("task %s: verification error: %v", task.ID, err)
		}
		success = verified
	case models.OutcomeTimeout, models.OutcomeStalled:
		o.inspectAbandonedTree(ctx, task, result)
	case models.OutcomeCancelled:
		// Interrupted run: leave the task in progress for the next run.
		return nil
	}

	if success {
		o.recordSuccess(ctx, task, attempt)
		return nil
	}
	return o.recordFailure(ctx, task, attempt, result)
}

// runSession executes the agent with a stall monitor attached. The monitor
// cancels the session context with ErrStallDetected as the cause, which
// the runner maps to OutcomeStalled.
func (o *Orchestrator) runSession(ctx context.Context, req session.Request) *models.SessionResult {
	sessCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	detector := stall.NewDetector(o.cfg.Stall.WindowEvents, o.cfg.Stall.MaxDistinctReads,
		o.cfg.Stall.Inactivity, o.cfg.SessionTimeout)
	detector.Start(time.Now())

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		ticker := time.NewTicker(stallPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				return
			case <-ticker.C:
				if stalled, reason := detector.Check(time.Now()); stalled {
					o.console.Stall(req.Task.ID, reason)
					o.fileLog.Writef("task %s: stall: %s", req.Task.ID, reason)
					cancel(fmt.Errorf("%w: %s", models.ErrStallDetected, reason))
					return
				}
			}
		}
	}()

	result, err := o.runner.Run(sessCtx, req, detector.Observe)
	cancel(nil)
	<-monitorDone

	if err != nil {
		// Launch failure: synthesize a crashed result so the retry and
		// pattern paths treat it like any other failed attempt.
		return &models.SessionResult{
			TaskID:    req.Task.ID,
			Outcome:   models.OutcomeCrashed,
			ErrorText: err.Error(),
		}
	}
	return result
}

// inspectAbandonedTree checks what a timed-out or stalled session left in
// the working tree. The attempt already failed; anomalies and secrets are
// folded into the failure record so the skip decision, the pattern store
// and the next attempt all see them.
func (o *Orchestrator) inspectAbandonedTree(ctx context.Context, task *models.Task, result *models.SessionResult) {
	report, err := o.pipeline.Inspect(ctx)
	if err != nil {
		o.console.Debugf("task %s: change-set inspection failed: %v", task.ID, err)
		return
	}
	if report.Failure == nil {
		return
	}
	o.console.Warnf("task %s: abandoned change set: %v", task.ID, report.Failure)
	if result.ErrorText != "" {
		result.ErrorText += "; "
	}
	result.ErrorText += report.Failure.Error()
}

// verifyAndCorrect runs the verification pipeline with the single
// self-correction session.
func (o *Orchestrator) verifyAndCorrect(ctx context.Context, task *models.Task, result *models.SessionResult) (bool, error) {
	report, err := o.pipeline.VerifyWithCorrection(ctx, func(ctx context.Context, feedback string) error {
		o.console.Infof("task %s: self-correction session", task.ID)
		res := o.runSession(ctx, session.Request{
			Task:       *task,
			Correction: feedback,
			WorkDir:    o.workDir,
		})
		if res.Outcome != models.OutcomeCompleted {
			return fmt.Errorf("correction session ended with %s", res.Outcome)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !report.Passed && report.Failure != nil {
		result.Outcome = models.OutcomeVerifyFailed
		result.ErrorText = report.Failure.Error()
	} else if report.Passed {
		result.Outcome = models.OutcomeSuccess
	}
	return report.Passed, nil
}

// recordSuccess completes the task and updates checkpoints, patterns and
// the retry tracker.
func (o *Orchestrator) recordSuccess(ctx context.Context, task *models.Task, attempt int) {
	if _, err := o.checkpoints.Create(ctx, task.ID, attempt, true, task.Description); err != nil {
		o.console.Warnf("task %s: checkpoint failed: %v", task.ID, err)
	}
	if o.cfg.Rollback.Enabled {
		_, _ = o.checkpoints.RecordOutcome(ctx, true)
	}

	if sig := o.lastFailure[task.ID]; sig != "" && o.patterns != nil {
		resolution := fmt.Sprintf("resolved on attempt %d of task %s", attempt, task.ID)
		if err := o.patterns.Record(sig, resolution, true); err != nil {
			o.console.Debugf("pattern record failed: %v", err)
		}
		delete(o.lastFailure, task.ID)
	}

	if err := o.tracker.Reset(task.ID); err != nil {
		o.console.Warnf("task %s: retry reset failed: %v", task.ID, err)
	}
	if err := o.source.MarkOutcome(task.ID, models.OutcomeSuccess, attempt); err != nil {
		o.console.Warnf("task %s: %v", task.ID, err)
	}
}

// recordFailure books one failed attempt: retry counter, pattern store,
// consecutive-failure rollback, and possibly skipping the task. A failed
// or impossible rollback is fatal for the run.
func (o *Orchestrator) recordFailure(ctx context.Context, task *models.Task, attempt int, result *models.SessionResult) error {
	if err := o.tracker.RecordAttempt(task.ID); err != nil {
		return err
	}
	if err := o.source.MarkOutcome(task.ID, result.Outcome, o.tracker.Attempts(task.ID)); err != nil {
		o.console.Warnf("task %s: %v", task.ID, err)
	}

	if result.ErrorText != "" {
		o.lastFailure[task.ID] = result.ErrorText
		if o.patterns != nil {
			if err := o.patterns.Record(result.ErrorText, "", false); err != nil {
				o.console.Debugf("pattern record failed: %v", err)
			}
		}
	}

	if o.cfg.Rollback.Enabled {
		rolledBack, err := o.checkpoints.RecordOutcome(ctx, false)
		var rbErr *models.RollbackError
		if errors.As(err, &rbErr) {
			// LastGood may not exist yet; that is not fatal, there is
			// nothing to restore and nothing has been destroyed.
			if rbErr.Err == nil {
				o.console.Warnf("rollback skipped: %s", rbErr.Reason)
			} else {
				return fmt.Errorf("run aborted: %w", err)
			}
		} else if err != nil {
			return err
		}
		if rolledBack {
			o.rollbacks++
			if cp := o.checkpoints.LastGood(); cp != nil {
				o.console.Rollback(cp.ID)
			}
		}
	}

	if !o.tracker.CanRetry(task.ID) {
		return o.skip(task.ID)
	}
	o.console.Retry(task.ID, o.tracker.Attempts(task.ID)+1, o.tracker.Ceiling())
	return nil
}

// skip abandons a task after retry exhaustion. Dependents become blocked
// and are never run.
func (o *Orchestrator) skip(id string) error {
	o.console.Skip(id, o.tracker.Attempts(id))
	o.fileLog.Writef("task %s: skipped after %d attempts", id, o.tracker.Attempts(id))
	return o.source.Skip(id)
}

// hints fetches the top-weighted failure patterns for prompt injection.
func (o *Orchestrator) hints() []string {
	if o.patterns == nil || o.cfg.Patterns.InjectCount <= 0 {
		return nil
	}
	top, err := o.patterns.TopK(o.cfg.Patterns.InjectCount)
	if err != nil {
		o.console.Debugf("pattern lookup failed: %v", err)
		return nil
	}
	return pattern.RenderHints(top)
}

func (o *Orchestrator) summarize(elapsed time.Duration) models.RunSummary {
	completed, skipped, blocked, inProgress := o.source.Snapshot()
	return models.RunSummary{
		Completed:  completed,
		Skipped:    skipped,
		Blocked:    blocked,
		InProgress: inProgress,
		Rollbacks:  o.rollbacks,
		Duration:   elapsed,
	}
}

// Registry exposes the process registry for program-level shutdown hooks.
func (o *Orchestrator) Registry() *session.Registry {
	return o.registry
}
