package models

import "time"

// Outcome classifies how an agent session ended.
type Outcome string

const (
	// OutcomeSuccess means the session completed and verification passed.
	OutcomeSuccess Outcome = "success"

	// OutcomeCompleted means the agent process exited normally;
	// verification has not run yet.
	OutcomeCompleted Outcome = "completed"

	// OutcomeTimeout means the session hit the wall-clock limit and was killed.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeStalled means the stall detector cancelled the session.
	OutcomeStalled Outcome = "stalled"

	// OutcomeCrashed means the agent process exited abnormally.
	OutcomeCrashed Outcome = "crashed"

	// OutcomeVerifyFailed means the session ran but verification failed
	// even after the self-correction pass.
	OutcomeVerifyFailed Outcome = "verification_failed"

	// OutcomeCancelled means the run was interrupted externally.
	OutcomeCancelled Outcome = "cancelled"
)

// IsSuccess reports whether the outcome counts as a verified success.
func (o Outcome) IsSuccess() bool {
	return o == OutcomeSuccess
}

// SessionResult captures one agent session invocation for a task.
type SessionResult struct {
	SessionID string        `json:"session_id"`
	TaskID    string        `json:"task_id"`
	Outcome   Outcome       `json:"outcome"`
	Output    string        `json:"output"`
	ErrorText string        `json:"error_text,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Events    int           `json:"events"`
}

// RunSummary is the final accounting for a supervised run.
type RunSummary struct {
	Completed  []string      `json:"completed"`
	Skipped    []string      `json:"skipped"`
	Blocked    []string      `json:"blocked"`
	InProgress []string      `json:"in_progress"`
	Rollbacks  int           `json:"rollbacks"`
	Duration   time.Duration `json:"duration"`
}
