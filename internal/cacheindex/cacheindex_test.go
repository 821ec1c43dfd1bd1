package cacheindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestScoreMonotoneInHits(t *testing.T) {
	now := time.Now()
	low := ComputeScore(1, now, now)
	high := ComputeScore(2, now, now)
	assert.Greater(t, high, low)
}

func TestScoreMonotoneInRecency(t *testing.T) {
	now := time.Now()
	fresh := ComputeScore(1, now, now)
	stale := ComputeScore(1, now.Add(-48*time.Hour), now)
	assert.GreaterOrEqual(t, fresh, stale)
}

func TestScoreExampleFromSpec(t *testing.T) {
	now := time.Now()
	// "watched three times a week ago" vs "watched once a year ago": 3*10+30 = 60 vs 1*10+0 = 10
	threeRecent := ComputeScore(3, now.Add(-7*24*time.Hour), now)
	onceOld := ComputeScore(1, now.Add(-365*24*time.Hour), now)
	assert.Greater(t, threeRecent, onceOld)
}

func TestGetUpsertDelete(t *testing.T) {
	idx := openTestIndex(t)

	_, found, err := idx.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	e := Entry{CacheKey: "C:1:abc123", Path: "/tmp/x", Size: 10, Hits: 1, LastAccess: time.Now()}
	require.NoError(t, idx.Upsert(e))

	got, found, err := idx.Get("C:1:abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(10), got.Size)

	require.NoError(t, idx.Delete("C:1:abc123"))
	_, found, err = idx.Get("C:1:abc123")
	require.NoError(t, err)
	assert.False(t, found)
}

// TestCommitIdempotence is SPEC_FULL.md §8 property 6.
func TestCommitIdempotence(t *testing.T) {
	idx := openTestIndex(t)
	now := time.Now()
	e := Entry{CacheKey: "C:1:abc123", Path: "/tmp/x", Size: 10, Hits: 1, LastAccess: now, Score: ComputeScore(1, now, now)}

	require.NoError(t, idx.Upsert(e))
	first, _, err := idx.Get(e.CacheKey)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(e))
	second, _, err := idx.Get(e.CacheKey)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestIterByScoreAscOrdering(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Upsert(Entry{CacheKey: "a", Score: 30, Size: 1}))
	require.NoError(t, idx.Upsert(Entry{CacheKey: "b", Score: 20, Size: 1}))
	require.NoError(t, idx.Upsert(Entry{CacheKey: "c", Score: 50, Size: 1}))

	entries, err := idx.IterByScoreAsc()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{entries[0].CacheKey, entries[1].CacheKey, entries[2].CacheKey})
}
