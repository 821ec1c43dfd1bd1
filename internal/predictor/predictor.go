// Package predictor implements the "smart pre-cache" heuristic described in
// SPEC_FULL.md §4.G: given a just-accessed filename, try a fixed ordered
// list of episode-numbering regexes, compute the next filename pattern, and
// dispatch a Populator task on a single catalog match.
//
// Grounded on original_source/bot/helper/media_cache.py's smart_pre_cache
// for the exact regex list, zero-padding, and dedup logic; the short-TTL
// dedup cache follows backend/cache/plex.go's stateCache pattern of gating
// a relatively expensive external call behind an in-memory TTL cache.
package predictor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/streamcache/gateway/internal/catalog"
	"github.com/streamcache/gateway/internal/logging"
	"github.com/streamcache/gateway/internal/populator"
	"github.com/streamcache/gateway/internal/remote"
	"github.com/streamcache/gateway/internal/session"
)

// episodePattern is one ordered rule: match captures (prefix, number,
// suffix); render builds the next candidate's search pattern from the
// match.
type episodePattern struct {
	re *regexp.Regexp
}

// patterns is the fixed ordered list from SPEC_FULL.md §4.G. The first
// match wins.
var patterns = []episodePattern{
	{re: regexp.MustCompile(`^(.* - )(\d{2,3})( \[.*)$`)},
	{re: regexp.MustCompile(`^(.*--)(\d{2,3})(.*)$`)},
	{re: regexp.MustCompile(`^(.* )(\d{1,3})( .*)$`)},
}

const dedupTTL = 5 * time.Minute

// Predictor dispatches pre-cache populations on sequential-access hints.
type Predictor struct {
	catalog     catalog.Index
	populator   *populator.Populator
	pool        *session.Pool
	log         *logging.Logger
	recentProbe *gocache.Cache
}

// New builds a Predictor.
func New(cat catalog.Index, pop *populator.Populator, pool *session.Pool, log *logging.Logger) *Predictor {
	return &Predictor{
		catalog:     cat,
		populator:   pop,
		pool:        pool,
		log:         log,
		recentProbe: gocache.New(dedupTTL, dedupTTL),
	}
}

// nextPattern computes the next candidate's search regex from a matched
// (prefix, number, suffix), zero-padding the incremented number to the same
// width as the matched number, per SPEC_FULL.md §4.G.
func nextPattern(prefix, number string) string {
	n, err := strconv.Atoi(number)
	if err != nil {
		return ""
	}
	next := fmt.Sprintf("%0*d", len(number), n+1)
	return "^" + regexp.QuoteMeta(prefix) + next + ".*"
}

// Trigger is invoked on any live access (cache hit or fresh stream start).
// It runs synchronously against the catalog (a best-effort lookup) and
// dispatches the populator on a background session distinct from the one
// that served the live request, if a single catalog match is found and it
// isn't already cached or downloading.
func (p *Predictor) Trigger(ctx context.Context, containerID, currentName string, liveSession int) {
	dedupKey := containerID + "/" + currentName
	if _, found := p.recentProbe.Get(dedupKey); found {
		return
	}
	p.recentProbe.Set(dedupKey, struct{}{}, gocache.DefaultExpiration)

	for _, pat := range patterns {
		m := pat.re.FindStringSubmatch(currentName)
		if m == nil {
			continue
		}
		prefix, number := m[1], m[2]
		pattern := nextPattern(prefix, number)
		if pattern == "" {
			return
		}

		candidate, ok, err := p.catalog.FindByContainerAndTitleRegex(ctx, containerID, pattern)
		if err != nil {
			p.log.Debugf("predictor", "catalog lookup failed for %q: %v", pattern, err)
			return
		}
		if !ok {
			return
		}

		cacheKey := containerID + ":" + candidate.ItemID + ":" + candidate.ContentID
		bgSession := p.pool.PickOther(liveSession)
		p.populator.Trigger(context.Background(), populator.Request{
			CacheKey:     cacheKey,
			ContainerID:  containerID,
			ItemID:       candidate.ItemID,
			SessionIndex: bgSession,
			Descriptor: remote.Descriptor{
				Name: candidate.Filename,
			},
		})
		return
	}
}
