package fallback

import (
	"context"

	"github.com/kyson/hostbridge/internal/adapter/logger"
)

// Verified reports the value asked for next to the value read back.
// A mismatch is informational; it is never retried.
type Verified[T comparable] struct {
	Requested T
	Actual    T
	// ReadErr is set when the read-back failed; Actual then equals Requested.
	ReadErr error
}

// Match reports whether the read-back agrees with the request.
func (v Verified[T]) Match() bool {
	return v.ReadErr == nil && v.Actual == v.Requested
}

// RunVerified runs the chain and, after a success, reads the property back
// through get.
func RunVerified[T comparable](ctx context.Context, e *Engine, requested T, get func(ctx context.Context) (T, error), cands ...Candidate) (Outcome, Verified[T], error) {
	v := Verified[T]{Requested: requested, Actual: requested}

	outcome, err := e.Run(ctx, cands...)
	if err != nil {
		return outcome, v, err
	}

	actual, readErr := get(ctx)
	if readErr != nil {
		logger.Debug("Read-back failed", "winner", outcome.Winner.String(), "error", readErr)
		v.ReadErr = readErr
		return outcome, v, nil
	}
	v.Actual = actual
	if actual != requested {
		logger.Warn("Read-back differs from request", "winner", outcome.Winner.String(), "requested", requested, "actual", actual)
	}
	return outcome, v, nil
}
