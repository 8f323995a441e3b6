package native

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	nerrors "github.com/wippyai/nativeguard/errors"
)

func TestLoader_SharesSingleLoad(t *testing.T) {
	var opens atomic.Int32
	release := make(chan struct{})
	table := addTable()
	loader := NewLoader(func(context.Context) (Table, error) {
		opens.Add(1)
		<-release
		return table, nil
	})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]Table, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := loader.Obtain(context.Background())
			if err != nil {
				t.Errorf("Obtain failed: %v", err)
			}
			results[i] = got
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if opens.Load() != 1 {
		t.Fatalf("expected one load, got %d", opens.Load())
	}
	for i, got := range results {
		if got != Table(table) {
			t.Fatalf("caller %d got a different table", i)
		}
	}
	if !loader.Loaded() {
		t.Fatal("expected Loaded after success")
	}
}

func TestLoader_FailureIsCached(t *testing.T) {
	var opens atomic.Int32
	boom := errors.New("dlopen failed")
	loader := NewLoader(func(context.Context) (Table, error) {
		opens.Add(1)
		return nil, boom
	})

	for i := 0; i < 3; i++ {
		_, err := loader.Obtain(context.Background())
		if !errors.Is(err, boom) {
			t.Fatalf("expected cause in chain, got %v", err)
		}
		if nerrors.KindOf(err) != nerrors.KindFatal {
			t.Fatalf("expected fatal load error, got %v", err)
		}
	}
	if opens.Load() != 1 {
		t.Fatalf("failed load must be cached, got %d opens", opens.Load())
	}

	if err := loader.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	_, _ = loader.Obtain(context.Background())
	if opens.Load() != 2 {
		t.Fatalf("Reset must allow a new load, got %d opens", opens.Load())
	}
}

func TestLoader_RetryOnFailure(t *testing.T) {
	var opens atomic.Int32
	table := addTable()
	loader := NewLoader(func(context.Context) (Table, error) {
		if opens.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return table, nil
	}, WithRetryOnFailure())

	if _, err := loader.Obtain(context.Background()); err == nil {
		t.Fatal("expected first load to fail")
	}
	got, err := loader.Obtain(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got != Table(table) {
		t.Fatal("unexpected table")
	}
	if loader.Loads() != 2 {
		t.Fatalf("expected 2 loads, got %d", loader.Loads())
	}
}

func TestLoader_RequiredExports(t *testing.T) {
	closed := false
	table := addTable().OnClose(func(context.Context) error {
		closed = true
		return nil
	})
	loader := NewLoader(Static(table), WithRequiredExports("add", "sub", "mul"))

	_, err := loader.Obtain(context.Background())
	if nerrors.KindOf(err) != nerrors.KindFatal {
		t.Fatalf("expected fatal load error, got %v", err)
	}
	var e *nerrors.Error
	if !errors.As(err, &e) || e.Detail != "missing required exports: mul, sub" {
		t.Fatalf("unexpected detail: %v", err)
	}
	if !closed {
		t.Fatal("rejected table must be closed")
	}
}

func TestLoader_WaitRespectsContext(t *testing.T) {
	release := make(chan struct{})
	loader := NewLoader(func(context.Context) (Table, error) {
		<-release
		return addTable(), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := loader.Obtain(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	close(release)
	got, err := loader.Obtain(context.Background())
	if err != nil || got == nil {
		t.Fatalf("abandoned wait must not abort the load: %v", err)
	}
	if loader.Loads() != 1 {
		t.Fatalf("expected the original load to be reused, got %d loads", loader.Loads())
	}
}

func TestLoader_PanicBecomesLoadError(t *testing.T) {
	loader := NewLoader(func(context.Context) (Table, error) {
		panic("segfault")
	})
	_, err := loader.Obtain(context.Background())
	if nerrors.KindOf(err) != nerrors.KindFatal {
		t.Fatalf("expected fatal load error, got %v", err)
	}
}

func TestLoader_ReloadClosesPrevious(t *testing.T) {
	var closes atomic.Int32
	loader := NewLoader(func(context.Context) (Table, error) {
		return addTable().OnClose(func(context.Context) error {
			closes.Add(1)
			return nil
		}), nil
	})

	first, err := loader.Obtain(context.Background())
	if err != nil {
		t.Fatalf("Obtain failed: %v", err)
	}
	second, err := loader.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if first == second {
		t.Fatal("Reload must produce a fresh table")
	}
	if closes.Load() != 1 {
		t.Fatalf("expected previous table closed, got %d", closes.Load())
	}
	if _, err := first.Call(context.Background(), "add", []Value{Int(1), Int(1)}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected old table unavailable, got %v", err)
	}
}

func TestLoader_WasmFile(t *testing.T) {
	loader := NewLoader(WasmFile(t.TempDir()+"/missing.wasm", WasmConfig{}))
	_, err := loader.Obtain(context.Background())
	if nerrors.KindOf(err) != nerrors.KindFatal {
		t.Fatalf("expected fatal load error, got %v", err)
	}
}
