package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harnesslab/overseer/internal/models"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := New(t.TempDir())
	require.NoError(t, err)
	return g
}

func TestAddTaskRejectsCycleAndLeavesGraphUnchanged(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.AddTask("a", "first", nil))
	require.NoError(t, g.AddTask("b", "second", []string{"a"}))

	// c -> b -> a plus a -> c would close a cycle. a is declared to depend
	// on c before c exists, which is allowed until c arrives.
	g2 := newTestGraph(t)
	require.NoError(t, g2.AddTask("a", "first", []string{"c"}))
	require.NoError(t, g2.AddTask("b", "second", []string{"a"}))

	err := g2.AddTask("c", "third", []string{"b"})
	var cycleErr *models.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Path)

	// The offending task must not have been inserted.
	assert.Nil(t, g2.Get("c"))
	assert.Len(t, g2.Tasks(), 2)
}

func TestAddTaskRejectsSelfDependency(t *testing.T) {
	g := newTestGraph(t)
	err := g.AddTask("a", "self", []string{"a"})
	var cycleErr *models.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestValidateReportsUnknownDependency(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddTask("a", "first", []string{"ghost"}))
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestReadyOrderIsDeterministic(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddTask("c", "third", nil))
	require.NoError(t, g.AddTask("a", "first", nil))
	require.NoError(t, g.AddTask("b", "second", nil))

	ready := g.ReadyTasks()
	require.Len(t, ready, 3)
	// Declaration order wins.
	assert.Equal(t, "c", ready[0].ID)
	assert.Equal(t, "a", ready[1].ID)
	assert.Equal(t, "b", ready[2].ID)
}

func TestChainExecutesInDependencyOrder(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddTask("a", "first", nil))
	require.NoError(t, g.AddTask("b", "second", []string{"a"}))
	require.NoError(t, g.AddTask("c", "third", []string{"b"}))

	var executed []string
	for !g.Done() {
		next := g.NextReady()
		require.NotNil(t, next)
		require.NoError(t, g.MarkInProgress(next.ID))
		require.NoError(t, g.MarkComplete(next.ID))
		executed = append(executed, next.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, executed)
}

func TestSkippedTaskHardBlocksDependents(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddTask("a", "first", nil))
	require.NoError(t, g.AddTask("b", "second", []string{"a"}))
	require.NoError(t, g.AddTask("c", "third", []string{"b"}))

	require.NoError(t, g.MarkSkipped("a"))

	// Nothing downstream of a skipped task may run.
	assert.Nil(t, g.NextReady())

	blocked := g.BlockedTasks()
	require.Len(t, blocked, 2)
	assert.Equal(t, "b", blocked[0].Task.ID)
	assert.Equal(t, "a", blocked[0].BlockingID)
	assert.True(t, blocked[0].Terminal)
}

func TestBlockedTasksNamesBlockerClosestToReadiness(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddTask("deep", "long chain", nil))
	require.NoError(t, g.AddTask("mid", "middle", []string{"deep"}))
	require.NoError(t, g.AddTask("shallow", "no deps", nil))
	require.NoError(t, g.AddTask("leaf", "wants both", []string{"mid", "shallow"}))

	blocked := g.BlockedTasks()
	require.Len(t, blocked, 2)
	var leaf *Blocked
	for i := range blocked {
		if blocked[i].Task.ID == "leaf" {
			leaf = &blocked[i]
		}
	}
	require.NotNil(t, leaf)
	// shallow has zero unmet deps of its own; mid has one.
	assert.Equal(t, "shallow", leaf.BlockingID)
}

func TestGraphPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, g.AddTask("a", "first", nil))
	require.NoError(t, g.AddTask("b", "second", []string{"a"}))
	require.NoError(t, g.MarkInProgress("a"))
	require.NoError(t, g.MarkComplete("a"))

	reloaded, err := New(dir)
	require.NoError(t, err)
	require.Len(t, reloaded.Tasks(), 2)
	assert.Equal(t, models.StatusComplete, reloaded.Get("a").Status)

	next := reloaded.NextReady()
	require.NotNil(t, next)
	assert.Equal(t, "b", next.ID)
}

func TestReloadResumesInterruptedTask(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, g.AddTask("a", "first", nil))
	require.NoError(t, g.AddTask("b", "second", []string{"a"}))
	require.NoError(t, g.MarkInProgress("a"))

	// The process holding "a" is gone; a fresh load must hand it out again
	// instead of waiting forever on a session that no longer exists.
	reloaded, err := New(dir)
	require.NoError(t, err)
	require.False(t, reloaded.Done())

	next := reloaded.NextReady()
	require.NotNil(t, next)
	assert.Equal(t, "a", next.ID)
	assert.Nil(t, next.StartedAt)
}

func TestMarkAttemptedReturnsTaskToPool(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddTask("a", "first", nil))
	require.NoError(t, g.MarkInProgress("a"))
	require.NoError(t, g.MarkAttempted("a", 1))

	next := g.NextReady()
	require.NotNil(t, next)
	assert.Equal(t, "a", next.ID)
	assert.Equal(t, 1, next.AttemptCount)
}

func TestMarkInProgressRequiresReady(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddTask("a", "first", nil))
	require.NoError(t, g.AddTask("b", "second", []string{"a"}))

	err := g.MarkInProgress("b")
	require.Error(t, err)
	require.False(t, errors.Is(err, models.ErrRetryExhausted))
}
