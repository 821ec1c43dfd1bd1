// Package fake provides an in-memory catalog.Index test double.
package fake

import (
	"context"
	"regexp"

	"github.com/streamcache/gateway/internal/catalog"
)

// Index is a catalog.Index backed by a flat slice of fixture candidates per
// container.
type Index struct {
	byContainer map[string][]catalog.Candidate
}

// New builds an empty fake catalog.
func New() *Index {
	return &Index{byContainer: make(map[string][]catalog.Candidate)}
}

// Add registers a fixture candidate under containerID.
func (idx *Index) Add(containerID string, c catalog.Candidate) {
	idx.byContainer[containerID] = append(idx.byContainer[containerID], c)
}

// FindByContainerAndTitleRegex implements catalog.Index.
func (idx *Index) FindByContainerAndTitleRegex(ctx context.Context, containerID, pattern string) (catalog.Candidate, bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return catalog.Candidate{}, false, err
	}

	var matches []catalog.Candidate
	for _, c := range idx.byContainer[containerID] {
		if re.MatchString(c.Filename) {
			matches = append(matches, c)
		}
	}
	if len(matches) != 1 {
		return catalog.Candidate{}, false, nil
	}
	return matches[0], true, nil
}

// Remove implements catalog.Index.
func (idx *Index) Remove(ctx context.Context, containerID, itemID string) error {
	kept := idx.byContainer[containerID][:0]
	for _, c := range idx.byContainer[containerID] {
		if c.ItemID != itemID {
			kept = append(kept, c)
		}
	}
	idx.byContainer[containerID] = kept
	return nil
}
