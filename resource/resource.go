package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/nativeguard/errors"
)

// Destructor releases the native object behind a handle.
type Destructor func(ctx context.Context, h *Handle) error

// Resource pairs a handle with the responsibility to release it. Owners
// must call Dispose on every exit path; see Using.
type Resource struct {
	createdAt    time.Time
	handle       *Handle
	tracker      *Tracker
	destroy      Destructor
	now          func() time.Time
	lastAccessed atomic.Int64
	mu           sync.RWMutex
}

// New wraps h and registers it with t. A nil tracker leaves the resource
// untracked.
func New(t *Tracker, h *Handle, destroy Destructor) *Resource {
	now := time.Now
	if t != nil {
		now = t.now
	}
	created := now()
	r := &Resource{
		createdAt: created,
		handle:    h,
		tracker:   t,
		destroy:   destroy,
		now:       now,
	}
	r.lastAccessed.Store(created.UnixNano())
	if t != nil {
		t.Register(r)
	}
	return r
}

// Handle returns the native handle. Callers must not retain it past
// Dispose.
func (r *Resource) Handle() *Handle { return r.handle }

func (r *Resource) CreatedAt() time.Time { return r.createdAt }

func (r *Resource) LastAccessedAt() time.Time {
	return time.Unix(0, r.lastAccessed.Load())
}

func (r *Resource) Disposed() bool { return r.handle.Disposed() }

// Touch records an access. It fails once the resource is disposed.
func (r *Resource) Touch() error {
	if r.handle.Disposed() {
		return errors.Disposed("touch", r.handle.String())
	}
	r.lastAccessed.Store(r.now().UnixNano())
	return nil
}

// Use runs fn with the handle while holding off disposal. It fails with a
// disposed error without running fn if the resource was already released.
func (r *Resource) Use(op string, fn func(h *Handle) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.handle.Disposed() {
		return errors.Disposed(op, r.handle.String())
	}
	r.lastAccessed.Store(r.now().UnixNano())
	return fn(r.handle)
}

// Dispose releases the native object. The destructor runs exactly once,
// then the resource is unregistered and marked disposed. A destructor
// failure still leaves the resource disposed and is returned. Calling
// Dispose again is a no-op.
func (r *Resource) Dispose(ctx context.Context) error {
	_, err := r.release(ctx)
	return err
}

// release reports whether this call performed the disposal.
func (r *Resource) release(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle.Disposed() {
		return false, nil
	}

	var destroyErr error
	if r.destroy != nil {
		destroyErr = r.destroy(ctx, r.handle)
	}
	if r.tracker != nil {
		r.tracker.Unregister(r)
	}
	r.handle.markDisposed()

	if destroyErr != nil {
		Logger().Warn("native destructor failed",
			zap.String("handle", r.handle.String()),
			zap.Error(destroyErr))
		kind := errors.KindOf(destroyErr)
		if kind == "" {
			kind = errors.KindFatal
		}
		return true, errors.New(errors.PhaseResource, kind).
			Op("dispose").
			Detail("destroy %s", r.handle).
			Cause(destroyErr).
			Build()
	}
	return true, nil
}

func (r *Resource) info() Info {
	return Info{
		Key:            r.handle.Key(),
		CreatedAt:      r.createdAt,
		LastAccessedAt: r.LastAccessedAt(),
		Disposed:       r.handle.Disposed(),
	}
}
