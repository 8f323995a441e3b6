package native

import (
	"context"
	"errors"
	"testing"

	nerrors "github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/native/nativetest"
)

func openCounter(t *testing.T) *WasmTable {
	t.Helper()
	table, err := OpenWasm(context.Background(), nativetest.CounterWASM, WasmConfig{WIT: nativetest.CounterWIT})
	if err != nil {
		t.Fatalf("OpenWasm failed: %v", err)
	}
	t.Cleanup(func() { _ = table.Close(context.Background()) })
	return table
}

func TestWasmTable_Call(t *testing.T) {
	ctx := context.Background()
	table := openCounter(t)

	v, err := table.Call(ctx, "add", []Value{Int(40), Int(2)})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if i, _ := v.AsInt(); i != 42 {
		t.Fatalf("expected 42, got %s", v)
	}

	for want := uint64(1); want <= 3; want++ {
		v, err := table.Call(ctx, "create", nil)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if u, _ := v.AsUint(); u != want {
			t.Fatalf("expected handle %d, got %s", want, v)
		}
	}

	v, err = table.Call(ctx, "destroy", []Value{Handle(1)})
	if err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if i, _ := v.AsInt(); i != 0 {
		t.Fatalf("expected 0, got %s", v)
	}
}

func TestWasmTable_NegativeI32(t *testing.T) {
	table := openCounter(t)
	v, err := table.Call(context.Background(), "add", []Value{Int(-5), Int(2)})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if i, _ := v.AsInt(); i != -3 {
		t.Fatalf("expected -3, got %s", v)
	}
}

func TestWasmTable_StatusExport(t *testing.T) {
	ctx := context.Background()
	table := openCounter(t)

	_, err := table.Call(ctx, "busy", nil)
	code, ok := CodeOf(err)
	if !ok || code != CodeBusy {
		t.Fatalf("expected busy status, got %v", err)
	}

	// The status is cleared after being read.
	if _, err := table.Call(ctx, "add", []Value{Int(1), Int(1)}); err != nil {
		t.Fatalf("status leaked into next call: %v", err)
	}
	if table.Has(LastErrorExport) {
		t.Fatal("status export must not be callable")
	}
}

func TestWasmTable_TrapPoisons(t *testing.T) {
	ctx := context.Background()
	table := openCounter(t)

	_, err := table.Call(ctx, "crash", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from trap, got %v", err)
	}
	if !table.Poisoned() {
		t.Fatal("trap must poison the table")
	}

	_, err = table.Call(ctx, "add", []Value{Int(1), Int(1)})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after trap, got %v", err)
	}
}

func TestWasmTable_CallerErrors(t *testing.T) {
	ctx := context.Background()
	table := openCounter(t)

	_, err := table.Call(ctx, "add", []Value{Int(1)})
	if !errors.Is(err, nerrors.ErrCaller) {
		t.Errorf("expected caller error for arity, got %v", err)
	}
	_, err = table.Call(ctx, "add", []Value{Int(1 << 40), Int(1)})
	if !errors.Is(err, nerrors.ErrCaller) {
		t.Errorf("expected caller error for range, got %v", err)
	}
	_, err = table.Call(ctx, "missing", nil)
	if nerrors.KindOf(err) != nerrors.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
	if table.Poisoned() {
		t.Error("caller errors must not poison the table")
	}
}

func TestWasmTable_DerivedSignatures(t *testing.T) {
	ctx := context.Background()
	table, err := OpenWasm(ctx, nativetest.CounterWASM, WasmConfig{})
	if err != nil {
		t.Fatalf("OpenWasm failed: %v", err)
	}
	defer table.Close(ctx)

	names := map[string]bool{}
	for _, sig := range table.Signatures() {
		names[sig.Name] = true
	}
	for _, want := range []string{"create", "destroy", "add", "crash", "busy"} {
		if !names[want] {
			t.Errorf("missing derived signature for %s", want)
		}
	}
	if names[LastErrorExport] {
		t.Error("status export must not be listed")
	}

	v, err := table.Call(ctx, "add", []Value{Int(2), Int(2)})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if i, _ := v.AsInt(); i != 4 {
		t.Fatalf("expected 4, got %s", v)
	}
}

func TestOpenWasm_LoadErrors(t *testing.T) {
	ctx := context.Background()

	_, err := OpenWasm(ctx, []byte{0x00, 0x61, 0x73}, WasmConfig{})
	if !errors.Is(err, nerrors.ErrFatal) {
		t.Errorf("expected fatal load error for bad binary, got %v", err)
	}

	_, err = OpenWasm(ctx, nativetest.CounterWASM, WasmConfig{WIT: `missing: func() -> s32;`})
	if !errors.Is(err, nerrors.ErrFatal) {
		t.Errorf("expected fatal load error for missing export, got %v", err)
	}

	_, err = OpenWasm(ctx, nativetest.CounterWASM, WasmConfig{WIT: `add: func(a: s64, b: s32) -> s32;`})
	if !errors.Is(err, nerrors.ErrFatal) {
		t.Errorf("expected fatal load error for type mismatch, got %v", err)
	}
}

func TestWasmTable_Close(t *testing.T) {
	ctx := context.Background()
	table, err := OpenWasm(ctx, nativetest.CounterWASM, WasmConfig{WIT: nativetest.CounterWIT})
	if err != nil {
		t.Fatalf("OpenWasm failed: %v", err)
	}
	if err := table.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := table.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	_, err = table.Call(ctx, "add", []Value{Int(1), Int(1)})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after close, got %v", err)
	}
}
