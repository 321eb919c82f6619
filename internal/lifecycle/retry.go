package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/example/parcel-matching/internal/storage"
)

// RetryPolicy bounds the backoff applied to transient store failures inside
// a saga. The zero value falls back to 3 attempts starting at 100ms.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.Attempts <= 0 {
		r.Attempts = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 100 * time.Millisecond
	}
	return r
}

// retry runs fn with bounded exponential backoff. Conflict and not-found
// results are decisions, not outages, so they pass through immediately.
func (r RetryPolicy) retry(ctx context.Context, fn func() error) error {
	r = r.withDefaults()
	delay := r.BaseDelay
	var err error
	for attempt := 0; attempt < r.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == r.Attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if IsConflict(err) {
		return false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
