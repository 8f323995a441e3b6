package resource

import (
	"context"

	"go.uber.org/multierr"
)

// Using runs fn with r and disposes r when fn returns, fails or panics. A
// dispose failure is combined with fn's error.
func Using[T any](ctx context.Context, r *Resource, fn func(*Resource) (T, error)) (result T, err error) {
	defer func() {
		if derr := r.Dispose(ctx); derr != nil {
			err = multierr.Append(err, derr)
		}
	}()
	return fn(r)
}

// Acquire creates a resource with acquire and runs fn under Using.
func Acquire[T any](ctx context.Context, acquire func(context.Context) (*Resource, error), fn func(*Resource) (T, error)) (T, error) {
	r, err := acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return Using(ctx, r, fn)
}
