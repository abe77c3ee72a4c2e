package filelock

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteCreatesFileWithContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	require.NoError(t, AtomicWrite(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAtomicWriteReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, AtomicWrite(path, []byte("first")))
	require.NoError(t, AtomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AtomicWrite(filepath.Join(dir, "state.json"), []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestSaveAndLoadJSONRoundTrip(t *testing.T) {
	type state struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, SaveJSON(path, state{Name: "run", Count: 3}))

	var got state
	found, err := LoadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, state{Name: "run", Count: 3}, got)
}

func TestLoadJSONMissingFileIsNotAnError(t *testing.T) {
	var v map[string]int
	found, err := LoadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestLoadJSONRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var v map[string]int
	_, err := LoadJSON(path, &v)
	require.Error(t, err)
}

func TestTryLockConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")

	l1 := New(path)
	require.NoError(t, l1.Lock())
	defer l1.Unlock()

	l2 := New(path)
	acquired, err := l2.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)
}
