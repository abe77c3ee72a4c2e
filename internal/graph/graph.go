// Package graph holds the task dependency graph: insertion with cycle
// rejection, deterministic ready ordering, and blocked-task reporting.
// The graph is persisted after every mutation so an interrupted run
// resumes from exact state.
package graph

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/harnesslab/overseer/internal/filelock"
	"github.com/harnesslab/overseer/internal/models"
)

// stateFile is the graph snapshot name inside the state dir.
const stateFile = "graph.json"

// Graph is a directed dependency graph of tasks. It is not safe for
// concurrent use; the orchestrator is the single writer by design.
type Graph struct {
	statePath string
	tasks     map[string]*models.Task
	order     []string
}

// snapshot is the persisted representation.
type snapshot struct {
	Tasks []*models.Task `json:"tasks"`
}

// New creates a Graph persisting under stateDir, loading a previous
// snapshot if one exists.
func New(stateDir string) (*Graph, error) {
	g := &Graph{
		statePath: filepath.Join(stateDir, stateFile),
		tasks:     make(map[string]*models.Task),
	}

	var snap snapshot
	found, err := filelock.LoadJSON(g.statePath, &snap)
	if err != nil {
		return nil, fmt.Errorf("load task graph: %w", err)
	}
	if found {
		sort.Slice(snap.Tasks, func(i, j int) bool {
			return snap.Tasks[i].Order < snap.Tasks[j].Order
		})
		for _, t := range snap.Tasks {
			g.tasks[t.ID] = t
			g.order = append(g.order, t.ID)
		}

		// A persisted in_progress task means the previous run was
		// interrupted mid-session; no process is still working on it.
		// Return it to the scheduling pool so the run resumes.
		resumed := false
		for _, t := range g.tasks {
			if t.Status == models.StatusInProgress {
				t.Status = models.StatusPending
				t.StartedAt = nil
				resumed = true
			}
		}
		if resumed {
			g.refreshStatuses()
		}
	}

	return g, nil
}

// AddTask inserts a task with the given dependencies. It returns a
// *models.CycleError and leaves the graph unchanged if the new edges would
// close a dependency cycle. Dependencies on ids not yet added are allowed;
// Validate reports any that never materialize.
func (g *Graph) AddTask(id, description string, deps []string) error {
	if id == "" {
		return fmt.Errorf("task id cannot be empty")
	}
	if _, exists := g.tasks[id]; exists {
		return fmt.Errorf("task %s: duplicate task id", id)
	}
	for _, dep := range deps {
		if dep == id {
			return &models.CycleError{Path: []string{id, id}}
		}
	}

	task := &models.Task{
		ID:          id,
		Description: description,
		DependsOn:   append([]string(nil), deps...),
		Status:      models.StatusPending,
		Order:       len(g.order),
	}

	// Tentative insert, then DFS; rolled back before returning the error
	// so a rejected edge never leaves partial state.
	g.tasks[id] = task
	if path := g.findCycle(); path != nil {
		delete(g.tasks, id)
		return &models.CycleError{Path: path}
	}
	g.order = append(g.order, id)

	g.refreshStatuses()
	return g.persist()
}

// findCycle runs DFS with white/gray/black coloring over the dependency
// edges. Returns the cycle path if one exists, nil otherwise.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int, len(g.tasks))
	var stack []string

	var dfs func(string) []string
	dfs = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)

		for _, dep := range g.tasks[id].DependsOn {
			if _, exists := g.tasks[dep]; !exists {
				continue
			}
			switch colors[dep] {
			case gray:
				// Back edge: slice the stack from the first occurrence
				// of dep to produce the cycle path.
				for i, n := range stack {
					if n == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
				return []string{dep, dep}
			case white:
				if path := dfs(dep); path != nil {
					return path
				}
			}
		}

		colors[id] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range g.sortedIDs() {
		if colors[id] == white {
			stack = stack[:0]
			if path := dfs(id); path != nil {
				return path
			}
		}
	}
	return nil
}

// Validate checks that every declared dependency refers to a known task.
// Called once after graph construction; unknown deps are fatal for the run.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, dep := range g.tasks[id].DependsOn {
			if _, exists := g.tasks[dep]; !exists {
				return fmt.Errorf("task %s: depends on unknown task %s", id, dep)
			}
		}
	}
	return nil
}

// ReadyTasks returns tasks whose dependencies are all complete, in a
// deterministic order: declaration order first, then fewest remaining
// dependents. Deterministic output is required for reproducible runs.
func (g *Graph) ReadyTasks() []*models.Task {
	var ready []*models.Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status == models.StatusReady {
			ready = append(ready, t)
		}
	}

	dependents := g.remainingDependents()
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Order != ready[j].Order {
			return ready[i].Order < ready[j].Order
		}
		return dependents[ready[i].ID] < dependents[ready[j].ID]
	})
	return ready
}

// NextReady returns the first ready task, or nil if none.
func (g *Graph) NextReady() *models.Task {
	ready := g.ReadyTasks()
	if len(ready) == 0 {
		return nil
	}
	return ready[0]
}

// remainingDependents counts, per task, how many non-terminal tasks still
// depend on it.
func (g *Graph) remainingDependents() map[string]int {
	counts := make(map[string]int, len(g.tasks))
	for _, t := range g.tasks {
		if t.IsTerminal() {
			continue
		}
		for _, dep := range t.DependsOn {
			counts[dep]++
		}
	}
	return counts
}

// MarkInProgress transitions a ready task to in_progress.
func (g *Graph) MarkInProgress(id string) error {
	t, err := g.get(id)
	if err != nil {
		return err
	}
	if t.Status != models.StatusReady {
		return fmt.Errorf("task %s: cannot start from status %s", id, t.Status)
	}
	now := time.Now().UTC()
	t.Status = models.StatusInProgress
	t.StartedAt = &now
	return g.persist()
}

// MarkComplete records a verified success and re-evaluates dependents.
func (g *Graph) MarkComplete(id string) error {
	t, err := g.get(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.Status = models.StatusComplete
	t.CompletedAt = &now
	g.refreshStatuses()
	return g.persist()
}

// MarkSkipped records retry exhaustion. A skipped task hard-blocks its
// dependents: they are reported blocked rather than run against a missing
// prerequisite.
func (g *Graph) MarkSkipped(id string) error {
	t, err := g.get(id)
	if err != nil {
		return err
	}
	t.Status = models.StatusSkipped
	g.refreshStatuses()
	return g.persist()
}

// MarkAttempted returns an in-progress task to the scheduling pool after a
// failed attempt, recording the attempt count for display.
func (g *Graph) MarkAttempted(id string, attempts int) error {
	t, err := g.get(id)
	if err != nil {
		return err
	}
	t.AttemptCount = attempts
	if t.Status == models.StatusInProgress {
		t.Status = models.StatusReady
	}
	return g.persist()
}

// Blocked describes a task that cannot run yet, annotated with the unmet
// dependency closest to readiness.
type Blocked struct {
	Task *models.Task

	// BlockingID is the unmet dependency with the fewest unmet transitive
	// dependencies of its own.
	BlockingID string

	// Terminal is true when the blocker was skipped, so the task can
	// never become ready.
	Terminal bool
}

// BlockedTasks returns all tasks with at least one incomplete dependency.
func (g *Graph) BlockedTasks() []Blocked {
	var blocked []Blocked
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status != models.StatusPending && t.Status != models.StatusBlocked {
			continue
		}

		best := ""
		bestUnmet := -1
		terminal := false
		for _, dep := range t.DependsOn {
			dt, exists := g.tasks[dep]
			if !exists || dt.Status == models.StatusComplete {
				continue
			}
			if dt.Status == models.StatusSkipped {
				terminal = true
			}
			unmet := g.unmetDeps(dep)
			if bestUnmet == -1 || unmet < bestUnmet {
				best = dep
				bestUnmet = unmet
			}
		}
		if best == "" {
			continue
		}
		blocked = append(blocked, Blocked{Task: t, BlockingID: best, Terminal: terminal})
	}
	return blocked
}

// unmetDeps counts incomplete transitive dependencies of a task.
func (g *Graph) unmetDeps(id string) int {
	seen := make(map[string]bool)
	var walk func(string) int
	walk = func(id string) int {
		t, exists := g.tasks[id]
		if !exists || seen[id] {
			return 0
		}
		seen[id] = true
		count := 0
		for _, dep := range t.DependsOn {
			dt, ok := g.tasks[dep]
			if !ok || dt.Status == models.StatusComplete {
				continue
			}
			count += 1 + walk(dep)
		}
		return count
	}
	return walk(id)
}

// refreshStatuses recomputes pending/ready/blocked for every non-terminal,
// non-running task. A task is ready iff all dependencies are complete; a
// task with a skipped dependency is blocked.
func (g *Graph) refreshStatuses() {
	for _, id := range g.order {
		t := g.tasks[id]
		if t.IsTerminal() || t.Status == models.StatusInProgress {
			continue
		}

		ready := true
		hardBlocked := false
		for _, dep := range t.DependsOn {
			dt, exists := g.tasks[dep]
			if !exists {
				ready = false
				continue
			}
			switch dt.Status {
			case models.StatusComplete:
			case models.StatusSkipped, models.StatusBlocked:
				ready = false
				hardBlocked = true
			default:
				ready = false
			}
		}

		switch {
		case ready:
			t.Status = models.StatusReady
		case hardBlocked:
			t.Status = models.StatusBlocked
		default:
			t.Status = models.StatusPending
		}
	}
}

// Tasks returns all tasks in declaration order.
func (g *Graph) Tasks() []*models.Task {
	out := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Get returns the task with the given id, or nil.
func (g *Graph) Get(id string) *models.Task {
	return g.tasks[id]
}

// Done reports whether every task has reached a terminal state or is
// permanently blocked.
func (g *Graph) Done() bool {
	for _, t := range g.tasks {
		switch t.Status {
		case models.StatusComplete, models.StatusSkipped, models.StatusBlocked:
		default:
			return false
		}
	}
	return true
}

func (g *Graph) get(id string) (*models.Task, error) {
	t, exists := g.tasks[id]
	if !exists {
		return nil, fmt.Errorf("unknown task %s", id)
	}
	return t, nil
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	// Include the tentatively inserted task (not yet in order) so cycle
	// detection sees it.
	for id := range g.tasks {
		found := false
		for _, o := range g.order {
			if o == id {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, id)
		}
	}
	return ids
}

func (g *Graph) persist() error {
	snap := snapshot{Tasks: g.Tasks()}
	// The tentative task from AddTask is already in order by persist time.
	if err := filelock.SaveJSON(g.statePath, &snap); err != nil {
		return fmt.Errorf("persist task graph: %w", err)
	}
	return nil
}
