package checkpoint

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harnesslab/overseer/internal/models"
)

// fakeSnapshotter simulates a repository as a map of file contents keyed
// by commit hash.
type fakeSnapshotter struct {
	commits  int
	restored []string
	failNext error
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, message string) (string, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return "", err
	}
	f.commits++
	return fmt.Sprintf("hash-%04d", f.commits), nil
}

func (f *fakeSnapshotter) Restore(ctx context.Context, commitHash string) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.restored = append(f.restored, commitHash)
	return nil
}

func (f *fakeSnapshotter) Head(ctx context.Context) (string, error) {
	return fmt.Sprintf("hash-%04d", f.commits), nil
}

func TestCreateAppendsImmutableRecord(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, err := NewManager(t.TempDir(), snap, 3, nil)
	require.NoError(t, err)

	cp, err := m.Create(context.Background(), "task-1", 1, true, "first task")
	require.NoError(t, err)
	assert.Equal(t, "hash-0001", cp.CommitHash)
	assert.True(t, cp.Verified)

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, cp.ID, history[0].ID)
}

func TestLastGoodSkipsUnverified(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, err := NewManager(t.TempDir(), snap, 3, nil)
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "a", 1, true, "")
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "b", 1, false, "")
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "c", 1, false, "")
	require.NoError(t, err)

	last := m.LastGood()
	require.NotNil(t, last)
	assert.Equal(t, "a", last.TaskID)
	assert.Equal(t, "hash-0001", last.CommitHash)
}

func TestRollbackAfterThresholdFailures(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, err := NewManager(t.TempDir(), snap, 3, nil)
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "good", 1, true, "")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		rolledBack, err := m.RecordOutcome(ctx, false)
		require.NoError(t, err)
		assert.False(t, rolledBack)
	}

	rolledBack, err := m.RecordOutcome(ctx, false)
	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.Equal(t, []string{"hash-0001"}, snap.restored)

	// The streak resets after a rollback.
	assert.Zero(t, m.ConsecutiveFailures())
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, err := NewManager(t.TempDir(), snap, 3, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = m.RecordOutcome(ctx, false)
	_, _ = m.RecordOutcome(ctx, false)
	_, _ = m.RecordOutcome(ctx, true)
	assert.Zero(t, m.ConsecutiveFailures())

	rolledBack, err := m.RecordOutcome(ctx, false)
	require.NoError(t, err)
	assert.False(t, rolledBack)
	assert.Empty(t, snap.restored)
}

func TestRollbackWithoutCheckpointReturnsRollbackError(t *testing.T) {
	m, err := NewManager(t.TempDir(), &fakeSnapshotter{}, 3, nil)
	require.NoError(t, err)

	err = m.RollbackToLastGood(context.Background())
	var rbErr *models.RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Nil(t, rbErr.Err)
}

func TestFailedRestoreReturnsRollbackError(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, err := NewManager(t.TempDir(), snap, 3, nil)
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "a", 1, true, "")
	require.NoError(t, err)

	snap.failNext = fmt.Errorf("disk on fire")
	err = m.RollbackToLastGood(context.Background())
	var rbErr *models.RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.NotNil(t, rbErr.Err)
}

func TestCheckpointLogPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	snap := &fakeSnapshotter{}
	m, err := NewManager(dir, snap, 3, nil)
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "a", 1, true, "")
	require.NoError(t, err)

	reloaded, err := NewManager(dir, snap, 3, nil)
	require.NoError(t, err)
	require.Len(t, reloaded.History(), 1)
	require.NotNil(t, reloaded.LastGood())
	assert.Equal(t, "hash-0001", reloaded.LastGood().CommitHash)
}

func TestCommitMessageCarriesMetadataTrailer(t *testing.T) {
	msg := commitMessage("task-9", 2, true)
	assert.Contains(t, msg, "[overseer-checkpoint]")
	assert.Contains(t, msg, `"task_id":"task-9"`)
	assert.Contains(t, msg, `"verified":true`)
}

func TestGitSnapshotterIssuesExpectedCommands(t *testing.T) {
	runner := &recordingRunner{outputs: map[string]string{
		"rev-parse": "abc123\n",
	}}
	g := &GitSnapshotter{WorkDir: "/repo", Runner: runner}

	hash, err := g.Snapshot(context.Background(), "checkpoint: test")
	require.NoError(t, err)
	assert.Equal(t, "abc123", hash)
	require.Len(t, runner.calls, 3)
	assert.Equal(t, []string{"add", "-A"}, runner.calls[0][1:])
	assert.Equal(t, "commit", runner.calls[1][1])

	require.NoError(t, g.Restore(context.Background(), "abc123"))
	last := runner.calls[len(runner.calls)-1]
	assert.Equal(t, []string{"git", "reset", "--hard", "abc123"}, last)
}

type recordingRunner struct {
	outputs map[string]string
	calls   [][]string
}

func (r *recordingRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	for key, out := range r.outputs {
		for _, a := range args {
			if a == key {
				return out, nil
			}
		}
	}
	return "", nil
}
