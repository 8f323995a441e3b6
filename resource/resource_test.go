package resource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	nerrors "github.com/wippyai/nativeguard/errors"
)

func countingDestructor(calls *atomic.Int32, err error) Destructor {
	return func(ctx context.Context, h *Handle) error {
		calls.Add(1)
		return err
	}
}

func TestHandle_Basic(t *testing.T) {
	h := NewHandle(42, "wallet")
	if h.ID() != 42 || h.Tag() != "wallet" {
		t.Fatalf("unexpected identity %s", h)
	}
	if h.Disposed() {
		t.Fatal("new handle should not be disposed")
	}
	if h.String() != "wallet#42" {
		t.Fatalf("unexpected string %q", h.String())
	}
	if !h.markDisposed() {
		t.Fatal("first markDisposed should report true")
	}
	if h.markDisposed() {
		t.Fatal("second markDisposed should report false")
	}
}

func TestResource_DisposeRunsDestructorOnce(t *testing.T) {
	tr := NewTracker()
	var calls atomic.Int32
	r := New(tr, NewHandle(1, "wallet"), countingDestructor(&calls, nil))

	for i := 0; i < 5; i++ {
		if err := r.Dispose(context.Background()); err != nil {
			t.Fatalf("Dispose #%d failed: %v", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected destructor once, got %d", calls.Load())
	}
	if tr.Count() != 0 {
		t.Fatalf("expected resource unregistered, count %d", tr.Count())
	}
}

func TestResource_ConcurrentDispose(t *testing.T) {
	var calls atomic.Int32
	r := New(NewTracker(), NewHandle(1, "wallet"), countingDestructor(&calls, nil))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Dispose(context.Background())
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected destructor once, got %d", calls.Load())
	}
}

func TestResource_DestructorFailureStillDisposes(t *testing.T) {
	tr := NewTracker()
	var calls atomic.Int32
	boom := errors.New("native free failed")
	r := New(tr, NewHandle(9, "wallet"), countingDestructor(&calls, boom))

	err := r.Dispose(context.Background())
	if err == nil {
		t.Fatal("expected destructor failure to be reported")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected cause in chain, got %v", err)
	}
	if nerrors.KindOf(err) != nerrors.KindFatal {
		t.Fatalf("expected fatal kind, got %s", nerrors.KindOf(err))
	}
	if !r.Disposed() {
		t.Fatal("resource must be disposed after failed destructor")
	}
	if tr.Count() != 0 {
		t.Fatal("resource must be unregistered after failed destructor")
	}
	if err := r.Dispose(context.Background()); err != nil {
		t.Fatalf("second Dispose should be a no-op, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected destructor once, got %d", calls.Load())
	}
}

func TestResource_OperationsFailAfterDispose(t *testing.T) {
	r := New(nil, NewHandle(3, "wallet"), nil)
	if err := r.Touch(); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	_ = r.Dispose(context.Background())

	if err := r.Touch(); !errors.Is(err, nerrors.ErrDisposed) {
		t.Fatalf("expected disposed error from Touch, got %v", err)
	}

	ran := false
	err := r.Use("balance", func(h *Handle) error {
		ran = true
		return nil
	})
	if !errors.Is(err, nerrors.ErrDisposed) {
		t.Fatalf("expected disposed error from Use, got %v", err)
	}
	if ran {
		t.Fatal("Use must not run fn on a disposed resource")
	}
}

func TestResource_UseUpdatesLastAccess(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))
	r := New(tr, NewHandle(1, "wallet"), nil)

	created := r.LastAccessedAt()
	clock.Advance(5)
	if err := r.Use("op", func(*Handle) error { return nil }); err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if !r.LastAccessedAt().After(created) {
		t.Fatal("expected last access to move forward")
	}
	if !r.CreatedAt().Equal(created) {
		t.Fatal("creation time must not change")
	}
}

func TestUsing_DisposesOnEveryPath(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		var calls atomic.Int32
		r := New(nil, NewHandle(1, "w"), countingDestructor(&calls, nil))
		v, err := Using(ctx, r, func(*Resource) (int, error) { return 7, nil })
		if err != nil || v != 7 {
			t.Fatalf("unexpected result %d, %v", v, err)
		}
		if calls.Load() != 1 {
			t.Fatal("expected dispose")
		}
	})

	t.Run("error", func(t *testing.T) {
		var calls atomic.Int32
		r := New(nil, NewHandle(1, "w"), countingDestructor(&calls, errors.New("free")))
		fail := errors.New("work failed")
		_, err := Using(ctx, r, func(*Resource) (int, error) { return 0, fail })
		if !errors.Is(err, fail) {
			t.Fatalf("expected work error, got %v", err)
		}
		if !errors.Is(err, nerrors.ErrFatal) {
			t.Fatalf("expected dispose error combined, got %v", err)
		}
		if calls.Load() != 1 {
			t.Fatal("expected dispose")
		}
	})

	t.Run("panic", func(t *testing.T) {
		var calls atomic.Int32
		r := New(nil, NewHandle(1, "w"), countingDestructor(&calls, nil))
		func() {
			defer func() { _ = recover() }()
			_, _ = Using(ctx, r, func(*Resource) (int, error) { panic("boom") })
		}()
		if calls.Load() != 1 {
			t.Fatal("expected dispose after panic")
		}
	})
}

func TestAcquire_PropagatesAcquireError(t *testing.T) {
	fail := errors.New("create failed")
	_, err := Acquire(context.Background(),
		func(context.Context) (*Resource, error) { return nil, fail },
		func(*Resource) (int, error) { t.Fatal("fn must not run"); return 0, nil })
	if !errors.Is(err, fail) {
		t.Fatalf("expected acquire error, got %v", err)
	}
}
