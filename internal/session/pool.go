// Package session owns the pool of authenticated remote-store sessions and
// the least-loaded selection policy used to spread live reads and
// background populations across them.
//
// Grounded on backend/cache/cache.go's Fs.rateLimiter/Options.Rps field
// (per-session throttling) and the scoped-acquisition idiom used throughout
// backend/cache/handle.go's worker lifecycle, generalized here into an
// explicitly constructed Pool rather than a package-level singleton (see
// DESIGN.md's note on avoiding rclone's boltMap/uploaderMap globals).
package session

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// State is SessionState: an authenticated session handle plus its current
// in-flight request count. It is owned by the Pool for the lifetime of the
// process.
type State struct {
	Handle    interface{}
	limiter   *rate.Limiter
	mu        sync.Mutex
	inFlight  int
}

// Limiter returns the per-session rate limiter, or nil if unlimited.
func (s *State) Limiter() *rate.Limiter {
	return s.limiter
}

// InFlight returns the current in-flight count. The read may be stale under
// concurrent use but is never negative.
func (s *State) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Pool holds an ordered list of N sessions and implements least-loaded and
// round-robin-distinct selection.
type Pool struct {
	sessions []*State
}

// New builds a Pool from the given handles. ratePerSecond <= 0 disables
// per-session rate limiting, matching DefCacheRps=-1's "disabled" sentinel
// in the teacher's Options.
func New(handles []interface{}, ratePerSecond float64) *Pool {
	sessions := make([]*State, len(handles))
	for i, h := range handles {
		st := &State{Handle: h}
		if ratePerSecond > 0 {
			st.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
		}
		sessions[i] = st
	}
	return &Pool{sessions: sessions}
}

// Len returns the number of sessions in the pool (N).
func (p *Pool) Len() int {
	return len(p.sessions)
}

// Session returns the State at index i.
func (p *Pool) Session(i int) *State {
	return p.sessions[i%len(p.sessions)]
}

// PickLeastLoaded returns the session index with the minimum in-flight
// count; ties are broken by lowest index.
func (p *Pool) PickLeastLoaded() int {
	best := 0
	bestLoad := -1
	for i, s := range p.sessions {
		load := s.InFlight()
		if bestLoad == -1 || load < bestLoad {
			bestLoad = load
			best = i
		}
	}
	return best
}

// PickOther returns (current + 1) mod N: a session distinct from current,
// used to put background populations on a different session than the live
// reader so that pool contention across roles is minimised.
func (p *Pool) PickOther(current int) int {
	n := len(p.sessions)
	if n == 0 {
		return current
	}
	return (current + 1) % n
}

// Acquire blocks until session i's rate limiter admits a request, a no-op
// if the session has no limiter configured (ratePerSecond <= 0 at
// construction). The range reader calls this before every Stream and the
// populator before every Locate, so each session self-throttles those calls
// (SPEC_FULL.md §11's domain-stack wiring for golang.org/x/time/rate); the
// HTTP layer's initial Locate is not throttled.
func (p *Pool) Acquire(ctx context.Context, i int) error {
	limiter := p.Session(i).Limiter()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// WithSession runs fn with session i's in-flight counter incremented for
// the duration of the call, decrementing on every exit path including a
// panic or error return from fn.
func (p *Pool) WithSession(i int, fn func(*State) error) error {
	s := p.Session(i)
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	return fn(s)
}
