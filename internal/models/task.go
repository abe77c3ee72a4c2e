package models

import (
	"errors"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// StatusPending means the task has unmet dependencies or has not been scheduled yet.
	StatusPending TaskStatus = "pending"

	// StatusReady means all dependencies are complete and the task can run.
	StatusReady TaskStatus = "ready"

	// StatusBlocked means at least one dependency cannot be satisfied
	// (failed terminally or was skipped).
	StatusBlocked TaskStatus = "blocked"

	// StatusInProgress means a session is currently running for the task.
	StatusInProgress TaskStatus = "in_progress"

	// StatusComplete means the task finished with a verified success.
	StatusComplete TaskStatus = "complete"

	// StatusSkipped means the task exhausted its retry budget and will not
	// be attempted again.
	StatusSkipped TaskStatus = "skipped"
)

// Task is a schedulable unit of work with dependencies.
// Status transitions are owned exclusively by the orchestrator;
// AttemptCount is owned by the retry tracker.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      TaskStatus `json:"status"`

	// AttemptCount mirrors the retry tracker's persisted counter for
	// display purposes only.
	AttemptCount int `json:"attempt_count"`

	// Order is the declaration index in the work list. Ready tasks are
	// yielded in this order for reproducible runs.
	Order int `json:"order"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Validate checks that the task has all required fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Description == "" {
		return errors.New("task description is required")
	}
	return nil
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusComplete || t.Status == StatusSkipped
}
