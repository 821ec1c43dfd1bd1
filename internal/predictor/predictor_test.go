package predictor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcache/gateway/internal/cacheindex"
	"github.com/streamcache/gateway/internal/cachestore"
	"github.com/streamcache/gateway/internal/catalog"
	catfake "github.com/streamcache/gateway/internal/catalog/fake"
	"github.com/streamcache/gateway/internal/logging"
	"github.com/streamcache/gateway/internal/populator"
	"github.com/streamcache/gateway/internal/remote/fake"
	"github.com/streamcache/gateway/internal/session"
)

func TestNextPatternZeroPads(t *testing.T) {
	// regexp.QuoteMeta only escapes \.+*?()|[]{}^$ — it leaves space and
	// hyphen untouched, so "Show - " round-trips unescaped.
	assert.Equal(t, `^Show - 05.*`, nextPattern("Show - ", "04"))
}

// TestPredictorFires is SPEC_FULL.md §8 scenario S6.
func TestPredictorFires(t *testing.T) {
	dir := t.TempDir()
	idx, err := cacheindex.Open(filepath.Join(dir, "idx.db"))
	require.NoError(t, err)
	defer idx.Close()

	store, err := cachestore.New(filepath.Join(dir, "files"), 0, idx, logging.Nop())
	require.NoError(t, err)

	remoteStore := fake.New()
	remoteStore.Add(fake.Item{ContainerID: "container", ItemID: "99", ContentID: "xyz789", Name: "Show - 05 [1080p].mkv", Mime: "video/x-matroska", Data: make([]byte, 10)})

	pool := session.New([]interface{}{"s0", "s1"}, -1)
	ds := populator.NewDownloadingSet()
	pop := populator.New(remoteStore, pool, store, ds, logging.Nop())

	cat := catfake.New()
	cat.Add("container", catalog.Candidate{ItemID: "99", ContentID: "xyz789", Filename: "Show - 05 [1080p].mkv"})

	pred := New(cat, pop, pool, logging.Nop())
	pred.Trigger(context.Background(), "container", "Show - 04 [1080p].mkv", 0)

	require.Eventually(t, func() bool {
		_, found, err := store.Exists("container:99:xyz789")
		return err == nil && found
	}, time.Second, time.Millisecond)
}

func TestPredictorDoesNothingOnNoMatch(t *testing.T) {
	dir := t.TempDir()
	idx, err := cacheindex.Open(filepath.Join(dir, "idx.db"))
	require.NoError(t, err)
	defer idx.Close()
	store, err := cachestore.New(filepath.Join(dir, "files"), 0, idx, logging.Nop())
	require.NoError(t, err)

	pool := session.New([]interface{}{"s0"}, -1)
	ds := populator.NewDownloadingSet()
	pop := populator.New(fake.New(), pool, store, ds, logging.Nop())
	cat := catfake.New() // empty: no candidates registered

	pred := New(cat, pop, pool, logging.Nop())
	pred.Trigger(context.Background(), "container", "Show - 04 [1080p].mkv", 0)

	assert.Equal(t, 0, ds.Len())
}
