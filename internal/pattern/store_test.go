package pattern

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "patterns.db"), 0.10)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNormalizeStripsRunSpecificNoise(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"timestamp",
			"2026-08-25T14:03:22Z error: connection refused",
			"error: connection refused",
		},
		{
			"line numbers",
			"panic at main.go:123: index out of range",
			"panic at main.go:N: index out of range",
		},
		{
			"hex address",
			"invalid memory address 0x7f3a9c001234",
			"invalid memory address",
		},
		{
			"absolute path",
			"open /home/user/project/config.yaml failed",
			"open config.yaml failed",
		},
		{
			"whitespace collapse",
			"error:   too\tmany   spaces",
			"error: too many spaces",
		},
		{
			"textual line numbers",
			"SyntaxError at line 12 in parser",
			"SyntaxError at line N in parser",
		},
		{
			"bare clock times",
			"[12:34:56] build failed",
			"[] build failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeCollapsesRunToRunVariants(t *testing.T) {
	// The same failure on a different line or at a different time must
	// produce the same signature.
	assert.Equal(t,
		Normalize("SyntaxError at line 12 in parser"),
		Normalize("SyntaxError at line 13 in parser"))
	assert.Equal(t,
		Normalize("[12:34:56] build failed"),
		Normalize("[09:01:07] build failed"))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"2026-08-25 14:03:22 FAIL /usr/lib/python3/runner.py:88 0xdeadbeef",
		"plain message with no noise",
		"nested /a/b/c/d.go:1:2 and /x/y/z.go:3",
		"failed at line 7, retried at 08:15:30",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestRecordAccumulatesBySignature(t *testing.T) {
	s := newTestStore(t)

	// Same failure with different run noise collapses to one signature.
	require.NoError(t, s.Record("2026-08-25T10:00:00Z test failed at main.go:10", "", false))
	require.NoError(t, s.Record("2026-08-25T11:30:00Z test failed at main.go:99", "", false))
	require.NoError(t, s.Record("test failed at main.go:7", "added nil check", true))
	require.NoError(t, s.Record("test failed at main.go:7", "", true))

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].SuccessCount)
	assert.Equal(t, 2, all[0].FailureCount)
	// The non-empty resolution sticks.
	assert.Equal(t, "added nil check", all[0].Resolution)
}

func TestTopKOrdersByWeight(t *testing.T) {
	s := newTestStore(t)

	// strong: 3 net successes. weak: 1. losing: net negative, excluded.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record("strong signal", "fix A", true))
	}
	require.NoError(t, s.Record("weak signal", "fix B", true))
	require.NoError(t, s.Record("losing signal", "", false))
	require.NoError(t, s.Record("losing signal", "", false))

	top, err := s.TopK(10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "strong signal", top[0].Signature)
	assert.Equal(t, "weak signal", top[1].Signature)

	top, err = s.TopK(1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "strong signal", top[0].Signature)
}

func TestWeightDecaysWithAgeAndNeverGoesNegative(t *testing.T) {
	now := time.Now().UTC()
	base := Pattern{SuccessCount: 5, FailureCount: 1}

	fresh := base
	fresh.LastSeen = now
	stale := base
	stale.LastSeen = now.AddDate(0, 0, -30)

	wFresh := weight(fresh, now, 0.10)
	wStale := weight(stale, now, 0.10)
	assert.Greater(t, wFresh, wStale)
	assert.InDelta(t, 4.0, wFresh, 0.01)
	assert.InDelta(t, 4.0*math.Exp(-3.0), wStale, 0.01)

	losing := Pattern{SuccessCount: 1, FailureCount: 4, LastSeen: now}
	assert.Zero(t, weight(losing, now, 0.10))
}

func TestRecordIgnoresEmptySignature(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Record("   ", "", false))
	count, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNilStoreDegradesGracefully(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
	assert.True(t, IsUnavailable(s.Record("sig", "", false)))
	_, err := s.TopK(3)
	assert.True(t, IsUnavailable(err))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.db")
	s, err := NewStore(path, 0.10)
	require.NoError(t, err)
	require.NoError(t, s.Record("flaky network test", "retry with backoff", true))
	require.NoError(t, s.Close())

	s2, err := NewStore(path, 0.10)
	require.NoError(t, err)
	defer s2.Close()

	top, err := s2.TopK(1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "retry with backoff", top[0].Resolution)
}

func TestRenderHints(t *testing.T) {
	hints := RenderHints([]Pattern{
		{Signature: "nil map write", Resolution: "initialize in constructor", SuccessCount: 3, FailureCount: 1},
		{Signature: "timeout talking to db", SuccessCount: 0, FailureCount: 4},
	})
	require.Len(t, hints, 2)
	assert.Contains(t, hints[0], "nil map write")
	assert.Contains(t, hints[0], "What worked: initialize in constructor")
	assert.NotContains(t, hints[0], "What didn't work")
	assert.Contains(t, hints[1], "What didn't work")
	assert.Contains(t, hints[1], "4 of 4 attempts failed")
}
