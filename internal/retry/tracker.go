// Package retry persists per-task attempt counts across runs and enforces
// the retry ceiling.
package retry

import (
	"fmt"
	"path/filepath"

	"github.com/harnesslab/overseer/internal/filelock"
)

// stateFile is the attempt-counter snapshot name inside the state dir.
const stateFile = "retry.json"

// DefaultCeiling is the per-task attempt limit before a task is skipped.
const DefaultCeiling = 3

// Tracker tracks attempt counts per task id. State is persisted after each
// mutation and survives process restarts.
type Tracker struct {
	statePath string
	ceiling   int
	attempts  map[string]int
}

// NewTracker loads any persisted attempt counts from stateDir.
// A ceiling of 0 or less uses DefaultCeiling.
func NewTracker(stateDir string, ceiling int) (*Tracker, error) {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	t := &Tracker{
		statePath: filepath.Join(stateDir, stateFile),
		ceiling:   ceiling,
		attempts:  make(map[string]int),
	}
	if _, err := filelock.LoadJSON(t.statePath, &t.attempts); err != nil {
		return nil, fmt.Errorf("load retry state: %w", err)
	}
	return t, nil
}

// CanRetry reports whether the task is under its attempt ceiling.
func (t *Tracker) CanRetry(taskID string) bool {
	return t.attempts[taskID] < t.ceiling
}

// RecordAttempt increments the attempt counter and persists.
func (t *Tracker) RecordAttempt(taskID string) error {
	t.attempts[taskID]++
	return t.persist()
}

// Reset clears the counter. Called only on verified success.
func (t *Tracker) Reset(taskID string) error {
	if _, exists := t.attempts[taskID]; !exists {
		return nil
	}
	delete(t.attempts, taskID)
	return t.persist()
}

// Attempts returns the recorded attempt count for a task.
func (t *Tracker) Attempts(taskID string) int {
	return t.attempts[taskID]
}

// Ceiling returns the configured attempt limit.
func (t *Tracker) Ceiling() int {
	return t.ceiling
}

func (t *Tracker) persist() error {
	if err := filelock.SaveJSON(t.statePath, t.attempts); err != nil {
		return fmt.Errorf("persist retry state: %w", err)
	}
	return nil
}
