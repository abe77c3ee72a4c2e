// Package checkpoint snapshots verified-good repository states and rolls
// back to the last good one after a run of consecutive failures.
package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/harnesslab/overseer/internal/filelock"
	"github.com/harnesslab/overseer/internal/models"
)

// stateFile is the append-only checkpoint log inside the state dir.
const stateFile = "checkpoints.json"

// DefaultFailureThreshold is the consecutive non-success streak that
// triggers an automatic rollback.
const DefaultFailureThreshold = 3

// Logger is the minimal logging surface the manager needs.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// Manager owns checkpoint creation order and the consecutive-failure
// rollback safety net. Checkpoints are immutable once recorded.
type Manager struct {
	statePath string
	snap      Snapshotter
	threshold int
	logger    Logger

	log      []models.Checkpoint
	failures int
}

// NewManager loads the checkpoint log from stateDir. A threshold of 0 or
// less uses DefaultFailureThreshold.
func NewManager(stateDir string, snap Snapshotter, threshold int, logger Logger) (*Manager, error) {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	m := &Manager{
		statePath: filepath.Join(stateDir, stateFile),
		snap:      snap,
		threshold: threshold,
		logger:    logger,
	}
	if _, err := filelock.LoadJSON(m.statePath, &m.log); err != nil {
		return nil, fmt.Errorf("load checkpoint log: %w", err)
	}
	return m, nil
}

// Create snapshots the current tree and appends an immutable checkpoint
// record. Called after verification, with verified reflecting its outcome.
func (m *Manager) Create(ctx context.Context, taskID string, attempt int, verified bool, summary string) (*models.Checkpoint, error) {
	hash, err := m.snap.Snapshot(ctx, commitMessage(taskID, attempt, verified))
	if err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}

	cp := models.Checkpoint{
		ID:         fmt.Sprintf("cp-%s", uuid.NewString()[:8]),
		CommitHash: hash,
		CreatedAt:  time.Now().UTC(),
		Verified:   verified,
		TaskID:     taskID,
		Attempt:    attempt,
		Summary:    summary,
	}
	m.log = append(m.log, cp)
	if err := filelock.SaveJSON(m.statePath, m.log); err != nil {
		return nil, fmt.Errorf("persist checkpoint log: %w", err)
	}

	if m.logger != nil {
		m.logger.Infof("Checkpoint %s created for task %s (commit %.12s)", cp.ID, taskID, hash)
	}
	return &cp, nil
}

// LastGood returns the most recent checkpoint whose verification passed,
// or nil if none exists yet.
func (m *Manager) LastGood() *models.Checkpoint {
	for i := len(m.log) - 1; i >= 0; i-- {
		if m.log[i].Verified {
			cp := m.log[i]
			return &cp
		}
	}
	return nil
}

// History returns the checkpoint log, oldest first.
func (m *Manager) History() []models.Checkpoint {
	out := make([]models.Checkpoint, len(m.log))
	copy(out, m.log)
	return out
}

// RecordOutcome updates the consecutive-failure counter and triggers a
// rollback when the threshold is reached. Returns true if a rollback
// happened. A *models.RollbackError is fatal for the run: proceeding from
// unknown repository state is disallowed.
func (m *Manager) RecordOutcome(ctx context.Context, success bool) (bool, error) {
	if success {
		m.failures = 0
		return false, nil
	}

	m.failures++
	if m.failures < m.threshold {
		return false, nil
	}

	if m.logger != nil {
		m.logger.Warnf("Rollback triggered after %d consecutive failures", m.failures)
	}
	if err := m.RollbackToLastGood(ctx); err != nil {
		return false, err
	}
	m.failures = 0
	return true, nil
}

// RollbackToLastGood restores the working tree to the most recent verified
// checkpoint, byte for byte.
func (m *Manager) RollbackToLastGood(ctx context.Context) error {
	last := m.LastGood()
	if last == nil {
		return &models.RollbackError{Reason: "no verified checkpoint exists"}
	}

	if err := m.snap.Restore(ctx, last.CommitHash); err != nil {
		return &models.RollbackError{
			Reason: fmt.Sprintf("restore checkpoint %s", last.ID),
			Err:    err,
		}
	}

	if m.logger != nil {
		m.logger.Infof("Rolled back to checkpoint %s (task %s, commit %.12s)",
			last.ID, last.TaskID, last.CommitHash)
	}
	return nil
}

// ConsecutiveFailures returns the current failure streak.
func (m *Manager) ConsecutiveFailures() int {
	return m.failures
}
