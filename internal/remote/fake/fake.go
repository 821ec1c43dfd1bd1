// Package fake provides an in-memory remote.Store test double, standing in
// for the external chat platform the way the caching backend's own tests
// stand up a throwaway local.Fs rather than a real cloud remote.
package fake

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/streamcache/gateway/internal/remote"
)

// Item is one fixture file known to the fake store.
type Item struct {
	ContainerID string
	ItemID      string
	ContentID   string
	Name        string
	Mime        string
	Data        []byte
}

// Store is a remote.Store backed by an in-memory item table. It supports
// scripted throttling/transient failures per item to exercise the
// rotation-on-error paths.
type Store struct {
	mu    sync.Mutex
	items map[string]Item // key: containerID+"/"+itemID

	// failLocate, if > 0 for a key, makes the next N Locate calls for it
	// fail with the configured error before succeeding.
	failLocate map[string]int
	failErr    map[string]error

	// failStream/failStreamErr schedule N Stream failures on a specific
	// session index for a given item key, to exercise rotate-to-another-
	// session behaviour deterministically.
	failStream    map[string]map[int]int
	failStreamErr map[string]map[int]error

	// StreamCalls counts Stream invocations per session index, useful for
	// asserting which session actually served a request.
	StreamCalls map[int]int
}

// New builds an empty fake store.
func New() *Store {
	return &Store{
		items:         make(map[string]Item),
		failLocate:    make(map[string]int),
		failErr:       make(map[string]error),
		failStream:    make(map[string]map[int]int),
		failStreamErr: make(map[string]map[int]error),
		StreamCalls:   make(map[int]int),
	}
}

func key(containerID, itemID string) string {
	return containerID + "/" + itemID
}

// Add registers a fixture item.
func (s *Store) Add(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key(item.ContainerID, item.ItemID)] = item
}

// FailNextLocates schedules the next n Locate calls for (containerID,
// itemID) to fail with err before succeeding.
func (s *Store) FailNextLocates(containerID, itemID string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(containerID, itemID)
	s.failLocate[k] = n
	s.failErr[k] = err
}

// FailNextStreams schedules the next n Stream calls against sessionIndex
// for (containerID, itemID) to fail with err before succeeding, so tests
// can force session rotation deterministically.
func (s *Store) FailNextStreams(containerID, itemID string, sessionIndex, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(containerID, itemID)
	if s.failStream[k] == nil {
		s.failStream[k] = make(map[int]int)
		s.failStreamErr[k] = make(map[int]error)
	}
	s.failStream[k][sessionIndex] = n
	s.failStreamErr[k][sessionIndex] = err
}

// Locate implements remote.Store.
func (s *Store) Locate(ctx context.Context, containerID, itemID string) (remote.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(containerID, itemID)
	if n := s.failLocate[k]; n > 0 {
		s.failLocate[k] = n - 1
		return remote.Descriptor{}, s.failErr[k]
	}

	item, ok := s.items[k]
	if !ok {
		return remote.Descriptor{}, remote.ErrNotFound
	}
	return remote.Descriptor{
		Handle:    k,
		Size:      int64(len(item.Data)),
		Mime:      item.Mime,
		Name:      item.Name,
		ContentID: item.ContentID,
	}, nil
}

// Stream implements remote.Store. sessionIndex is used only for the
// StreamCalls bookkeeping and for failures scheduled by FailNextStreams.
func (s *Store) Stream(ctx context.Context, desc remote.Descriptor, sessionIndex int, offset int64, chunkCount int) (io.ReadCloser, error) {
	s.mu.Lock()
	k, _ := desc.Handle.(string)
	item, ok := s.items[k]
	s.StreamCalls[sessionIndex]++

	if n := s.failStream[k][sessionIndex]; n > 0 {
		s.failStream[k][sessionIndex] = n - 1
		err := s.failStreamErr[k][sessionIndex]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if !ok {
		return nil, remote.ErrNotFound
	}

	end := offset + int64(chunkCount)*remote.ChunkSize
	if end > int64(len(item.Data)) {
		end = int64(len(item.Data))
	}
	if offset > end {
		offset = end
	}
	return io.NopCloser(bytes.NewReader(item.Data[offset:end])), nil
}
