package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"go.uber.org/multierr"

	nerrors "github.com/wippyai/nativeguard/errors"
)

func TestStack_ReleasesInReverseOrder(t *testing.T) {
	tr := NewTracker()
	var order []NativeID
	destroy := func(ctx context.Context, h *Handle) error {
		order = append(order, h.ID())
		return nil
	}

	var s Stack
	for id := NativeID(1); id <= 3; id++ {
		if err := s.Push(New(tr, NewHandle(id, "key"), destroy)); err != nil {
			t.Fatalf("Push(%d): %v", id, err)
		}
	}
	if err := s.Defer(func(context.Context) error {
		order = append(order, 0)
		return nil
	}); err != nil {
		t.Fatalf("Defer: %v", err)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := []NativeID{0, 3, 2, 1}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("release order %v, want %v", order, want)
	}
	if tr.Count() != 0 {
		t.Fatalf("expected every resource unregistered, count %d", tr.Count())
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("second Close ran cleanups again: %v", order)
	}
}

func TestStack_PartialAcquireReleasesWhatWasAcquired(t *testing.T) {
	tr := NewTracker()
	var destroyed atomic.Int32
	acquireErr := errors.New("native create failed")

	acquireAll := func(ctx context.Context) (err error) {
		var s Stack
		defer func() { err = multierr.Append(err, s.Close(ctx)) }()
		for id := NativeID(1); id <= 3; id++ {
			if id == 3 {
				return acquireErr
			}
			if err := s.Push(New(tr, NewHandle(id, "key"), countingDestructor(&destroyed, nil))); err != nil {
				return err
			}
		}
		return nil
	}

	err := acquireAll(context.Background())
	if !errors.Is(err, acquireErr) {
		t.Fatalf("expected acquire error, got %v", err)
	}
	if destroyed.Load() != 2 {
		t.Fatalf("expected both acquired resources destroyed, got %d", destroyed.Load())
	}
	if tr.Count() != 0 {
		t.Fatalf("leaked %d registrations", tr.Count())
	}
}

func TestStack_CloseContinuesPastFailures(t *testing.T) {
	tr := NewTracker()
	errFirst := errors.New("first destructor failed")
	errLast := errors.New("last destructor failed")
	var middle atomic.Int32

	var s Stack
	_ = s.Push(New(tr, NewHandle(1, "key"), countingDestructor(new(atomic.Int32), errFirst)))
	_ = s.Push(New(tr, NewHandle(2, "key"), countingDestructor(&middle, nil)))
	_ = s.Push(New(tr, NewHandle(3, "key"), countingDestructor(new(atomic.Int32), errLast)))

	err := s.Close(context.Background())
	if !errors.Is(err, errFirst) || !errors.Is(err, errLast) {
		t.Fatalf("expected both failures combined, got %v", err)
	}
	if len(multierr.Errors(err)) != 2 {
		t.Fatalf("expected 2 errors, got %v", multierr.Errors(err))
	}
	if middle.Load() != 1 {
		t.Fatal("a failing destructor stopped the release of the others")
	}
}

func TestStack_MoveTransfersOwnership(t *testing.T) {
	tr := NewTracker()
	var destroyed atomic.Int32

	var s Stack
	_ = s.Push(New(tr, NewHandle(1, "key"), countingDestructor(&destroyed, nil)))
	moved, err := s.Move()
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close after Move: %v", err)
	}
	if destroyed.Load() != 0 {
		t.Fatal("closing the emptied stack released a moved resource")
	}

	err = s.Push(New(tr, NewHandle(2, "key"), countingDestructor(&destroyed, nil)))
	if !errors.Is(err, nerrors.ErrDisposed) {
		t.Fatalf("expected disposed error pushing to a closed stack, got %v", err)
	}

	if moved.Len() != 1 {
		t.Fatalf("expected 1 moved cleanup, got %d", moved.Len())
	}
	if err := moved.Close(context.Background()); err != nil {
		t.Fatalf("Close moved: %v", err)
	}
	if destroyed.Load() != 1 {
		t.Fatalf("expected moved resource destroyed once, got %d", destroyed.Load())
	}
}
