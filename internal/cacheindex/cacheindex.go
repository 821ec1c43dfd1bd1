// Package cacheindex is the persistent CacheEntry metadata store (§4.D).
//
// Grounded on backend/cache/storage_persistent.go's Persistent type, which
// wraps a single go.etcd.io/bbolt database. Unlike the teacher, which nests
// one bucket per path segment because its keys are filesystem paths, this
// index uses one flat bucket keyed directly by cache_key, since CacheKey
// here is already a flat "container:item:content_id" string.
package cacheindex

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const entriesBucket = "entries"

// Score tuning constants (§4.D).
const (
	scoreK            = 10.0
	scoreDecayHours   = 24.0
	scoreRecencyScale = 100.0
	scoreRecencyStep  = 10.0
)

// Entry is a CacheEntry.
type Entry struct {
	CacheKey   string    `json:"cache_key"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Mime       string    `json:"mime"`
	Name       string    `json:"name"`
	Hits       int64     `json:"hits"`
	LastAccess time.Time `json:"last_access"`
	CreatedAt  time.Time `json:"created_at"`
	Score      float64   `json:"score"`
}

// ComputeScore implements the §4.D score formula:
//
//	score = K*hits + max(0, 100 - (hours_since_access/DECAY)*10)
func ComputeScore(hits int64, lastAccess, now time.Time) float64 {
	hours := now.Sub(lastAccess).Hours()
	recency := scoreRecencyScale - (hours/scoreDecayHours)*scoreRecencyStep
	if recency < 0 {
		recency = 0
	}
	return scoreK*float64(hits) + math.Max(0, recency)
}

// Index is the bbolt-backed Cache Index. Constructed explicitly once at
// startup and passed down to collaborators, never a package-level
// singleton (SPEC_FULL.md §9).
type Index struct {
	db *bolt.DB
}

// Open creates or opens the index database at dbPath.
func Open(dbPath string) (*Index, error) {
	db, err := bolt.Open(dbPath, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "cacheindex: failed to open %q", dbPath)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucket))
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "cacheindex: failed to create bucket")
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Get returns the entry for cacheKey, or (Entry{}, false, nil) if absent.
func (idx *Index) Get(cacheKey string) (Entry, bool, error) {
	var entry Entry
	var found bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		val := b.Get([]byte(cacheKey))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "cacheindex: get %q", cacheKey)
	}
	return entry, found, nil
}

// Upsert writes entry, keyed by entry.CacheKey.
func (idx *Index) Upsert(entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrapf(err, "cacheindex: marshal %q", entry.CacheKey)
	}
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		return b.Put([]byte(entry.CacheKey), encoded)
	})
}

// Delete removes the entry for cacheKey. Deleting an absent key is a no-op.
func (idx *Index) Delete(cacheKey string) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		return b.Delete([]byte(cacheKey))
	})
}

// IterByScoreAsc returns every entry ordered by ascending score, for use by
// eviction (§4.E).
func (idx *Index) IterByScoreAsc() ([]Entry, error) {
	var entries []Entry
	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return errors.Wrapf(err, "cacheindex: corrupt entry %q", string(k))
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score < entries[j].Score })
	return entries, nil
}

// SumSize returns the total committed bytes across all entries.
func (idx *Index) SumSize() (int64, error) {
	entries, err := idx.IterByScoreAsc()
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, e := range entries {
		sum += e.Size
	}
	return sum, nil
}

// Count returns the number of entries.
func (idx *Index) Count() (int, error) {
	var n int
	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Cleanup is the orphan-reconciliation pass (§4.E): delete rows whose file
// is missing, then recompute every surviving score. Mirrors the periodic
// cleanup the teacher runs from NewFs's background goroutine, adapted from
// chunk-age cleanup to whole-file-existence + score recomputation.
func (idx *Index) Cleanup(now time.Time) error {
	entries, err := idx.IterByScoreAsc()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, statErr := os.Stat(e.Path); os.IsNotExist(statErr) {
			if err := idx.Delete(e.CacheKey); err != nil {
				return err
			}
			continue
		}
		e.Score = ComputeScore(e.Hits, e.LastAccess, now)
		if err := idx.Upsert(e); err != nil {
			return err
		}
	}
	return nil
}

// RecordAccess bumps hits and last_access for cacheKey and recomputes its
// score, used on a cache HIT (§4.H step 4).
func (idx *Index) RecordAccess(cacheKey string, now time.Time) (Entry, error) {
	entry, found, err := idx.Get(cacheKey)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, errors.Errorf("cacheindex: record access on absent key %q", cacheKey)
	}
	entry.Hits++
	entry.LastAccess = now
	entry.Score = ComputeScore(entry.Hits, entry.LastAccess, now)
	if err := idx.Upsert(entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
