// Package catalog defines the external catalog interface consumed by the
// Predictor (SPEC_FULL.md §6). original_source/bot/helper/database.py backs
// this with MongoDB in the Python original; the spec treats it as an
// external collaborator, so only the interface and a test fake live here.
package catalog

import "context"

// Candidate is a CacheableCandidate.
type Candidate struct {
	ItemID    string
	ContentID string
	Filename  string
}

// Index is the catalog interface consumed by the Predictor.
type Index interface {
	// FindByContainerAndTitleRegex returns the single candidate in
	// containerID whose filename matches regex, or ok=false if zero or
	// more than one match exists. SPEC_FULL.md §9 resolves the "first of
	// many" ambiguity from the source by pushing it into the catalog
	// implementation: this interface only ever reports a unique match.
	FindByContainerAndTitleRegex(ctx context.Context, containerID, regex string) (candidate Candidate, ok bool, err error)

	// Remove deletes any row keyed by (containerID, itemID). Called by the
	// HTTP serving layer when the remote reports NotFound for an item that
	// still has a catalog entry, matching spec.md §7's NotFound handling
	// (original_source/bot/server/stream_routes.py:536 deletes the stale
	// database row before raising 404). Removing an absent row is a no-op.
	Remove(ctx context.Context, containerID, itemID string) error
}
