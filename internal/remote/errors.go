package remote

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Store.Locate when the remote reports no such
// item.
var ErrNotFound = errors.New("remote: item not found")

// ErrTransient is returned for any retryable remote failure that isn't a
// known throttling response.
var ErrTransient = errors.New("remote: transient error")

// ErrThrottled is returned when the remote store rate-limits the session;
// Wait is the store's advertised backoff, if any.
type ErrThrottled struct {
	Wait time.Duration
}

func (e *ErrThrottled) Error() string {
	return errors.Errorf("remote: throttled, retry after %s", e.Wait).Error()
}

// IsNotFound reports whether err (possibly wrapped) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

// IsRetryable reports whether err (possibly wrapped) should trigger session
// rotation rather than being surfaced directly to the caller.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	if cause == context.Canceled || cause == context.DeadlineExceeded {
		return false
	}
	if cause == ErrTransient {
		return true
	}
	var throttled *ErrThrottled
	if errors.As(err, &throttled) {
		return true
	}
	// The remote client library doesn't always tag every I/O hiccup with a
	// sentinel; per SPEC_FULL.md §4.F, anything that isn't a recognised
	// permanent failure (NotFound) is treated as retryable.
	return cause != ErrNotFound
}
