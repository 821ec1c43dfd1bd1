// Package populator implements the single-flight background cache
// population described in SPEC_FULL.md §4.F.
//
// Grounded on backend/cache/handle.go's backgroundWriter pause/play/close
// state machine for the background-task lifecycle idiom, and on
// original_source/bot/helper/media_cache.py's _download_file/_ensure_space/
// downloading_set for the exact admission, retry, and completeness
// semantics (including rotating on any error, not only ones tagged
// Throttled/Transient, per SPEC_FULL.md §4.F's supplemental note).
package populator

import (
	"context"
	"io"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/streamcache/gateway/internal/cachestore"
	"github.com/streamcache/gateway/internal/logging"
	"github.com/streamcache/gateway/internal/rangereader"
	"github.com/streamcache/gateway/internal/remote"
	"github.com/streamcache/gateway/internal/session"
)

// minCompleteRatio is the 99%-of-size completeness tolerance named in
// SPEC_FULL.md §9's resolved open question.
const minCompleteRatio = 0.99

// maxAttempts bounds total rotate-and-retry attempts across the whole
// population, not just the first-byte phase (unlike rangereader, which only
// rotates before the first byte).
const maxAttempts = 5

const retryBackoff = 500 * time.Millisecond

// CacheableExtensions and CacheableMimes implement the §6 cacheable media
// predicate.
var CacheableExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".avi": true, ".mov": true,
	".flv": true, ".wmv": true, ".mp3": true, ".m4a": true, ".flac": true,
	".wav": true, ".ogg": true, ".aac": true,
}

var CacheableMimes = map[string]bool{
	"video/mp4": true, "video/x-matroska": true, "video/webm": true,
	"video/avi": true, "video/quicktime": true, "video/x-flv": true,
	"video/x-ms-wmv": true, "audio/mpeg": true, "audio/mp4": true,
	"audio/flac": true, "audio/wav": true, "audio/ogg": true, "audio/aac": true,
}

// IsCacheable implements the §6 cacheable media predicate, tolerant of
// absent mime and absent extension (SPEC_FULL.md §9's "Maybe absences"
// note).
func IsCacheable(mime, ext string) bool {
	if mime != "" && CacheableMimes[mime] {
		return true
	}
	if ext != "" && CacheableExtensions[ext] {
		return true
	}
	return false
}

// downloadingSafetyTTL bounds how long a cache_key can remain marked
// in-flight if work() never reaches its deferred Remove (e.g. the process
// is killed mid-download); the janitor goroutine patrickmn/go-cache runs
// internally reclaims it so a crashed population doesn't permanently wedge
// that key out of future admission.
const downloadingSafetyTTL = time.Hour

// DownloadingSet is the fast-path existence probe for cache_keys currently
// being populated (SPEC_FULL.md §3/§4.F/§9), backed by
// github.com/patrickmn/go-cache for its atomic check-and-insert Add and its
// built-in TTL janitor as a safety net against stuck entries.
type DownloadingSet struct {
	cache *gocache.Cache
}

// NewDownloadingSet builds an empty set.
func NewDownloadingSet() *DownloadingSet {
	return &DownloadingSet{cache: gocache.New(downloadingSafetyTTL, downloadingSafetyTTL/2)}
}

// TryAdmit atomically checks-and-inserts cacheKey. Returns true if this
// caller won admission (the key was not already present). Add is the
// go-cache primitive for this: it fails if the key is already present,
// under the cache's own internal lock.
func (d *DownloadingSet) TryAdmit(cacheKey string) bool {
	return d.cache.Add(cacheKey, struct{}{}, gocache.DefaultExpiration) == nil
}

// Remove deletes cacheKey from the set.
func (d *DownloadingSet) Remove(cacheKey string) {
	d.cache.Delete(cacheKey)
}

// Len reports the number of in-flight populations, used for test assertions
// around single-flight (§8 scenario S4).
func (d *DownloadingSet) Len() int {
	return d.cache.ItemCount()
}

// Populator drives background downloads.
type Populator struct {
	store       remote.Store
	pool        *session.Pool
	cache       *cachestore.Store
	downloading *DownloadingSet
	log         *logging.Logger
}

// New builds a Populator.
func New(store remote.Store, pool *session.Pool, cache *cachestore.Store, downloading *DownloadingSet, log *logging.Logger) *Populator {
	return &Populator{store: store, pool: pool, cache: cache, downloading: downloading, log: log}
}

// Request is the input to Trigger: (cache_key, container_id, item_id,
// descriptor, session_index).
type Request struct {
	CacheKey     string
	ContainerID  string
	ItemID       string
	Descriptor   remote.Descriptor
	SessionIndex int
}

// Trigger performs admission synchronously and, if admitted, launches the
// work phase in a new goroutine on ctx (normally context.Background(),
// since populator tasks outlive the HTTP request that spawned them).
// Returns true if this call won admission and started work.
func (p *Populator) Trigger(ctx context.Context, req Request) bool {
	ext := extOf(req.Descriptor.Name)
	if !IsCacheable(req.Descriptor.Mime, ext) {
		return false
	}
	if _, exists, err := p.cache.Exists(req.CacheKey); err == nil && exists {
		return false
	}
	if !p.downloading.TryAdmit(req.CacheKey) {
		return false
	}

	go p.work(ctx, req)
	return true
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}
	return ""
}

func (p *Populator) work(ctx context.Context, req Request) {
	defer p.downloading.Remove(req.CacheKey)

	sessionIndex := req.SessionIndex
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			p.log.Debugf("populator", "cancelled before attempt %d for %q", attempt, req.CacheKey)
			return
		default:
		}

		if err := p.pool.Acquire(ctx, sessionIndex); err != nil {
			lastErr = err
			p.log.Debugf("populator", "rate limiter wait interrupted for %q: %v", req.CacheKey, err)
			return
		}

		desc, err := p.store.Locate(ctx, req.ContainerID, req.ItemID)
		if err != nil {
			lastErr = err
			if !remote.IsRetryable(err) {
				p.log.Errorf("populator", "permanent failure locating %q: %v", req.CacheKey, err)
				return
			}
			sessionIndex = p.rotateAndWait(ctx, sessionIndex)
			continue
		}

		if err := p.cache.Reserve(desc.Size); err != nil {
			p.log.Errorf("populator", "reserve failed for %q: %v", req.CacheKey, err)
			return
		}

		path := p.cache.PathFor(req.CacheKey, desc.Name, desc.Mime)
		measured, err := p.streamToDisk(ctx, desc, sessionIndex, path)
		if err != nil {
			lastErr = err
			_ = os.Remove(path)
			if errors.Cause(err) == context.Canceled {
				p.log.Debugf("populator", "cancelled mid-stream for %q", req.CacheKey)
				return
			}
			if !remote.IsRetryable(err) {
				p.log.Errorf("populator", "permanent failure streaming %q: %v", req.CacheKey, err)
				return
			}
			sessionIndex = p.rotateAndWait(ctx, sessionIndex)
			continue
		}

		if float64(measured) >= minCompleteRatio*float64(desc.Size) {
			if err := p.cache.Commit(req.CacheKey, path, measured, desc.Mime, desc.Name); err != nil {
				p.log.Errorf("populator", "commit failed for %q: %v", req.CacheKey, err)
			} else {
				p.log.Infof("populator", "cached %q (%d bytes)", req.CacheKey, measured)
			}
			return
		}

		p.log.Errorf("populator", "short download for %q: got %d of %d bytes", req.CacheKey, measured, desc.Size)
		_ = os.Remove(path)
		return
	}

	p.log.Errorf("populator", "exhausted retries for %q: %v", req.CacheKey, lastErr)
}

func (p *Populator) rotateAndWait(ctx context.Context, current int) int {
	next := p.pool.PickOther(current)
	select {
	case <-ctx.Done():
	case <-time.After(retryBackoff):
	}
	return next
}

func (p *Populator) streamToDisk(ctx context.Context, desc remote.Descriptor, sessionIndex int, path string) (int64, error) {
	rc, err := rangereader.Reader(ctx, p.log, p.store, p.pool, desc, sessionIndex, 0, desc.Size-1)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	f, err := p.cache.WriteStreaming(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(f, rc)
	if err != nil {
		return n, err
	}
	return n, nil
}
