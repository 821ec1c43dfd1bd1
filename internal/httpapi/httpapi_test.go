package httpapi

import (
	"net/http/httptest"
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
	"github.com/streamcache/gateway/internal/predictor"
	"github.com/streamcache/gateway/internal/remote/fake"
	"github.com/streamcache/gateway/internal/session"
)

func newTestServer(t *testing.T) (*Server, *fake.Store, *cachestore.Store) {
	srv, remoteStore, store, _ := newTestServerWithCatalog(t)
	return srv, remoteStore, store
}

func newTestServerWithCatalog(t *testing.T) (*Server, *fake.Store, *cachestore.Store, *catfake.Index) {
	t.Helper()
	dir := t.TempDir()
	idx, err := cacheindex.Open(filepath.Join(dir, "idx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	store, err := cachestore.New(filepath.Join(dir, "files"), 0, idx, logging.Nop())
	require.NoError(t, err)

	remoteStore := fake.New()
	pool := session.New([]interface{}{"s0", "s1"}, -1)
	ds := populator.NewDownloadingSet()
	pop := populator.New(remoteStore, pool, store, ds, logging.Nop())
	cat := catfake.New()
	pred := predictor.New(cat, pop, pool, logging.Nop())

	return &Server{
		Store:     remoteStore,
		Pool:      pool,
		Cache:     store,
		Populator: pop,
		Predictor: pred,
		Catalog:   cat,
		Log:       logging.Nop(),
	}, remoteStore, store, cat
}

func makeData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

// TestRangeRoundTripCold is SPEC_FULL.md §8 scenario S1.
func TestRangeRoundTripCold(t *testing.T) {
	srv, remoteStore, _ := newTestServer(t)
	data := makeData(2_500_000)
	remoteStore.Add(fake.Item{
		ContainerID: "c1", ItemID: "42", ContentID: "abcdef01",
		Name: "movie.mp4", Mime: "video/mp4", Data: data,
	})

	req := httptest.NewRequest("GET", "/c1/movie.mp4?id=42&hash=abcdef", nil)
	req.Header.Set("Range", "bytes=1048575-2097151")
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 206, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, data[1048575:2097152], rec.Body.Bytes())
}

// TestInvalidRangeReturns416 is SPEC_FULL.md §8 scenario S2.
func TestInvalidRangeReturns416(t *testing.T) {
	srv, remoteStore, _ := newTestServer(t)
	remoteStore.Add(fake.Item{
		ContainerID: "c1", ItemID: "42", ContentID: "abcdef01",
		Name: "movie.mp4", Mime: "video/mp4", Data: makeData(1000),
	})

	req := httptest.NewRequest("GET", "/c1/movie.mp4?id=42&hash=abcdef", nil)
	req.Header.Set("Range", "bytes=5000-6000")
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 416, rec.Code)
	assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
}

// TestCacheHitIncrementsHits covers the cache-hit path of SPEC_FULL.md §8
// scenario S3, here without a Range header, so the response is a 200.
func TestCacheHitIncrementsHits(t *testing.T) {
	srv, remoteStore, store := newTestServer(t)
	data := makeData(500)
	remoteStore.Add(fake.Item{
		ContainerID: "c1", ItemID: "42", ContentID: "abcdef01",
		Name: "song.mp3", Mime: "audio/mpeg", Data: data,
	})

	cacheKey := "c1:42:abcdef01"
	path := store.PathFor(cacheKey, "song.mp3", "audio/mpeg")
	f, err := store.WriteStreaming(path)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, store.Commit(cacheKey, path, int64(len(data)), "audio/mpeg", "song.mp3"))

	req := httptest.NewRequest("GET", "/c1/song.mp3?id=42&hash=abcdef", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, data, rec.Body.Bytes())

	require.Eventually(t, func() bool {
		entry, found, err := store.Exists(cacheKey)
		return err == nil && found && entry.Hits == 2
	}, time.Second, time.Millisecond)
}

func TestForbiddenOnHashMismatch(t *testing.T) {
	srv, remoteStore, _ := newTestServer(t)
	remoteStore.Add(fake.Item{
		ContainerID: "c1", ItemID: "42", ContentID: "abcdef01",
		Name: "movie.mp4", Mime: "video/mp4", Data: makeData(1000),
	})

	req := httptest.NewRequest("GET", "/c1/movie.mp4?id=42&hash=wrong1", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 403, rec.Code)
}

func TestNotFoundForUnknownItem(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/c1/missing.mp4?id=99&hash=abcdef", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
}

// TestNotFoundDeletesStaleCatalogRow is spec.md §7's NotFound handling: the
// serving layer deletes any stale catalog row for an item the remote no
// longer reports, mirroring original_source/bot/server/stream_routes.py's
// delete-then-404 behavior.
func TestNotFoundDeletesStaleCatalogRow(t *testing.T) {
	srv, _, _, cat := newTestServerWithCatalog(t)
	cat.Add("c1", catalog.Candidate{ItemID: "99", ContentID: "abcdef01", Filename: "missing.mp4"})

	req := httptest.NewRequest("GET", "/c1/missing.mp4?id=99&hash=abcdef", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
	_, found, err := cat.FindByContainerAndTitleRegex(req.Context(), "c1", "^missing\\.mp4$")
	require.NoError(t, err)
	assert.False(t, found)
}
