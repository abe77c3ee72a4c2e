// Package orchestrator drives the run: pick a ready task, supervise its
// session, verify the change set, and keep the recovery machinery
// (retries, checkpoints, patterns) informed.
package orchestrator

import (
	"fmt"

	"github.com/harnesslab/overseer/internal/graph"
	"github.com/harnesslab/overseer/internal/models"
)

// Source supplies tasks to the run loop and receives their outcomes.
// Adapters keep scheduling policy out of the loop itself.
type Source interface {
	// NextReady returns the next runnable task, or false when nothing is
	// runnable right now.
	NextReady() (*models.Task, bool)

	// MarkStarted transitions a task to in-progress.
	MarkStarted(id string) error

	// MarkOutcome records a terminal session outcome for the task.
	// Verified success completes it; other outcomes leave it retryable.
	MarkOutcome(id string, outcome models.Outcome, attempts int) error

	// Skip abandons the task permanently.
	Skip(id string) error

	// Done reports whether no runnable or in-progress work remains.
	Done() bool

	// Snapshot lists task ids by current state for the run summary.
	Snapshot() (completed, skipped, blocked, inProgress []string)
}

// GraphSource adapts the dependency graph to the Source interface.
type GraphSource struct {
	g *graph.Graph
}

// NewGraphSource wraps a validated graph.
func NewGraphSource(g *graph.Graph) *GraphSource {
	return &GraphSource{g: g}
}

func (s *GraphSource) NextReady() (*models.Task, bool) {
	t := s.g.NextReady()
	return t, t != nil
}

func (s *GraphSource) MarkStarted(id string) error {
	return s.g.MarkInProgress(id)
}

func (s *GraphSource) MarkOutcome(id string, outcome models.Outcome, attempts int) error {
	if outcome == models.OutcomeSuccess {
		return s.g.MarkComplete(id)
	}
	return s.g.MarkAttempted(id, attempts)
}

func (s *GraphSource) Skip(id string) error {
	return s.g.MarkSkipped(id)
}

func (s *GraphSource) Done() bool {
	return s.g.Done()
}

func (s *GraphSource) Snapshot() (completed, skipped, blocked, inProgress []string) {
	for _, t := range s.g.Tasks() {
		switch t.Status {
		case models.StatusComplete:
			completed = append(completed, t.ID)
		case models.StatusSkipped:
			skipped = append(skipped, t.ID)
		case models.StatusBlocked:
			blocked = append(blocked, t.ID)
		case models.StatusInProgress:
			inProgress = append(inProgress, t.ID)
		}
	}
	return
}

// Blocked exposes the graph's blocked-task report for the summary.
func (s *GraphSource) Blocked() []graph.Blocked {
	return s.g.BlockedTasks()
}

// Seed inserts tasks into the graph, preserving declaration order. Tasks
// already present (a resumed run) are left untouched. A cycle aborts the
// whole seed: partial graphs are worse than no graph.
func (s *GraphSource) Seed(tasks []models.Task) error {
	for _, t := range tasks {
		if s.g.Get(t.ID) != nil {
			continue
		}
		if err := s.g.AddTask(t.ID, t.Description, t.DependsOn); err != nil {
			return fmt.Errorf("seed task %s: %w", t.ID, err)
		}
	}
	return s.g.Validate()
}

var _ Source = (*GraphSource)(nil)
