// Package cachestore owns the on-disk cache directory: atomic whole-file
// writes and score-ordered eviction against a size budget (§4.E).
//
// Grounded on backend/cache/storage_persistent.go's AddChunk/
// CleanChunksBySize write-then-evict-by-threshold pattern, adapted from
// per-chunk files under dataPath/<remote>/<offset> to one file per
// cache_key under cache_root/<md5(cache_key)><.ext>.
package cachestore

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/streamcache/gateway/internal/cacheindex"
	"github.com/streamcache/gateway/internal/logging"
)

// extensionByMime implements the §6 extension-from-mime fallback table.
var extensionByMime = map[string]string{
	"video/mp4":        ".mp4",
	"video/x-matroska": ".mkv",
	"video/webm":       ".webm",
	"audio/mpeg":       ".mp3",
	"audio/mp4":        ".m4a",
	"audio/flac":       ".flac",
}

// Store is the Cache Store.
type Store struct {
	root     string
	maxBytes int64
	index    *cacheindex.Index
	log      *logging.Logger
}

// New builds a Store rooted at root with the given size budget.
func New(root string, maxBytes int64, index *cacheindex.Index, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cachestore: failed to create root %q", root)
	}
	return &Store{root: root, maxBytes: maxBytes, index: index, log: log}, nil
}

// PathFor returns the deterministic on-disk path for cacheKey given a
// filename and/or mime hint, per §6's layout and extension rules.
func (s *Store) PathFor(cacheKey, name, mime string) string {
	sum := md5.Sum([]byte(cacheKey))
	ext := filepath.Ext(name)
	if ext == "" {
		ext = extensionByMime[mime]
	}
	if ext == "" {
		ext = ".bin"
	}
	return filepath.Join(s.root, hex.EncodeToString(sum[:])+ext)
}

// Reserve ensures sum_size()+neededBytes <= max_bytes by evicting
// lowest-score entries in index order until satisfied. Missing files are
// ignored on delete. Reservations may transiently overshoot max_bytes
// during the window between this decision and completion of the new
// write (§4.E invariant) — evictions are never rolled back.
func (s *Store) Reserve(neededBytes int64) error {
	if s.maxBytes <= 0 {
		return nil // unbounded cache
	}
	current, err := s.index.SumSize()
	if err != nil {
		return err
	}
	if current+neededBytes <= s.maxBytes {
		return nil
	}

	entries, err := s.index.IterByScoreAsc()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if current+neededBytes <= s.maxBytes {
			break
		}
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			s.log.Errorf("cachestore", "failed to remove evicted file %q: %v", e.Path, err)
		}
		if err := s.index.Delete(e.CacheKey); err != nil {
			return err
		}
		current -= e.Size
		s.log.Infof("cachestore", "evicted %q (score=%.1f) to make room for %d bytes", e.CacheKey, e.Score, neededBytes)
	}
	return nil
}

// WriteStreaming opens path for exclusive sequential writes.
func (s *Store) WriteStreaming(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "cachestore: open writer %q", path)
	}
	return f, nil
}

// Commit creates the index row for a freshly written file with hits=1.
// Committing again with the same arguments leaves the existing row as is.
func (s *Store) Commit(cacheKey, path string, measuredSize int64, mime, name string) error {
	existing, found, err := s.index.Get(cacheKey)
	if err != nil {
		return err
	}
	if found && existing.Path == path && existing.Size == measuredSize && existing.Mime == mime && existing.Name == name {
		return nil
	}
	now := time.Now().UTC()
	entry := cacheindex.Entry{
		CacheKey:   cacheKey,
		Path:       path,
		Size:       measuredSize,
		Mime:       mime,
		Name:       name,
		Hits:       1,
		LastAccess: now,
		CreatedAt:  now,
		Score:      cacheindex.ComputeScore(1, now, now),
	}
	return s.index.Upsert(entry)
}

// OpenRead opens path for positioned reads supporting byte ranges.
func (s *Store) OpenRead(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cachestore: open reader %q", path)
	}
	return f, nil
}

// ReadRange copies [from, until] (inclusive) of f to w.
func ReadRange(f *os.File, w io.Writer, from, until int64) error {
	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return errors.Wrap(err, "cachestore: seek")
	}
	_, err := io.CopyN(w, f, until-from+1)
	return err
}

// Cleanup reconciles orphans (index rows whose file is missing) and
// recomputes every surviving score.
func (s *Store) Cleanup() error {
	return s.index.Cleanup(time.Now().UTC())
}

// Index returns the underlying cache index, for callers that need to record
// accesses or inspect entries directly (e.g. the HTTP serving layer bumping
// hit counts on a cache-hit response).
func (s *Store) Index() *cacheindex.Index {
	return s.index
}

// Exists reports whether cacheKey has a committed, on-disk entry.
func (s *Store) Exists(cacheKey string) (cacheindex.Entry, bool, error) {
	entry, found, err := s.index.Get(cacheKey)
	if err != nil || !found {
		return entry, false, err
	}
	if _, statErr := os.Stat(entry.Path); os.IsNotExist(statErr) {
		return entry, false, nil
	}
	return entry, true, nil
}
