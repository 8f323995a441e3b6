package resource

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/nativeguard/errors"
)

// Stack owns a group of resources and cleanup functions and releases them
// in reverse order of registration. The zero value is ready to use.
//
//	var s resource.Stack
//	defer func() { err = multierr.Append(err, s.Close(ctx)) }()
//	w, err := rt.AcquireResource(ctx, "wallet")
//	if err != nil {
//		return err
//	}
//	if err := s.Push(w); err != nil {
//		return multierr.Append(err, w.Dispose(ctx))
//	}
type Stack struct {
	cleanups []func(context.Context) error
	mu       sync.Mutex
	closed   bool
}

// Push adds r to the stack. It fails on a closed stack and leaves r
// untouched.
func (s *Stack) Push(r *Resource) error {
	return s.Defer(r.Dispose)
}

// Defer adds fn to run on Close.
func (s *Stack) Defer(fn func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Disposed("stack.defer", "stack")
	}
	s.cleanups = append(s.cleanups, fn)
	return nil
}

// Len returns the number of pending cleanups.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleanups)
}

// Move transfers every pending cleanup to a new stack and leaves s closed.
// It hands ownership out of a scope that would otherwise release it.
func (s *Stack) Move() (*Stack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Disposed("stack.move", "stack")
	}
	moved := &Stack{cleanups: s.cleanups}
	s.cleanups = nil
	s.closed = true
	return moved, nil
}

// Close runs every cleanup, last registered first, even when earlier ones
// fail. Errors are combined. Closing twice is a no-op.
func (s *Stack) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	var errs error
	for i := len(cleanups) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, cleanups[i](ctx))
	}
	if errs != nil {
		Logger().Warn("resource stack released with errors",
			zap.Int("cleanups", len(cleanups)),
			zap.Error(errs))
	}
	return errs
}
