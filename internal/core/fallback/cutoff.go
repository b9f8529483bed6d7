package fallback

import (
	"context"
	"errors"
	"time"
)

// WithCutoff runs fn under a child context that expires after limit.
//
// If the child deadline is what ended fn, the call is a soft success:
// cut is true and err is nil. Cancellation of the parent context is still
// reported as an error. A limit <= 0 disables the ceiling.
func WithCutoff(ctx context.Context, limit time.Duration, fn func(ctx context.Context) error) (cut bool, err error) {
	if limit <= 0 {
		return false, fn(ctx)
	}

	child, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err = fn(child)
	if err == nil {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, err
	}
	if errors.Is(child.Err(), context.DeadlineExceeded) {
		return true, nil
	}
	return false, err
}
