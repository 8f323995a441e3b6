package native

import (
	"errors"
	"testing"

	nerrors "github.com/wippyai/nativeguard/errors"
)

func TestParseWIT(t *testing.T) {
	sigs, err := ParseWIT(`
		create: func() -> u64;
		add: func(a: s32, b: s32) -> s32;
		export scale: func(x: f64, factor: f32) -> f64;
		reset: func();
	`)
	if err != nil {
		t.Fatalf("ParseWIT failed: %v", err)
	}
	if len(sigs) != 4 {
		t.Fatalf("expected 4 signatures, got %d", len(sigs))
	}

	add := sigs["add"]
	if add.Arity() != 2 || add.Params[0].Name != "a" || add.Params[1].Kind != KindInt || add.Params[1].Bits != 32 {
		t.Errorf("unexpected add signature %+v", add)
	}
	if len(add.Results) != 1 || add.Results[0].Kind != KindInt {
		t.Errorf("unexpected add results %+v", add.Results)
	}

	if c := sigs["create"]; len(c.Results) != 1 || c.Results[0].Kind != KindUint || c.Results[0].Bits != 64 {
		t.Errorf("unexpected create signature %+v", c)
	}
	if s := sigs["scale"]; s.Params[1].Kind != KindFloat || s.Params[1].Bits != 32 {
		t.Errorf("unexpected scale signature %+v", s)
	}
	if r := sigs["reset"]; r.Arity() != 0 || len(r.Results) != 0 {
		t.Errorf("unexpected reset signature %+v", r)
	}
}

func TestParseWIT_NoFunctions(t *testing.T) {
	_, err := ParseWIT("interface empty {}")
	if nerrors.KindOf(err) != nerrors.KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSignature_CheckArgs(t *testing.T) {
	sig := Signature{
		Name: "transfer",
		Params: []Param{
			{Name: "from", Kind: KindHandle},
			{Name: "amount", Kind: KindUint, Bits: 32},
			{Name: "memo", Kind: KindString},
		},
	}

	if err := sig.CheckArgs([]Value{Handle(1), Uint(10), String("rent")}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}

	tests := []struct {
		name string
		args []Value
	}{
		{"arity", []Value{Handle(1)}},
		{"kind", []Value{Handle(1), String("10"), String("rent")}},
		{"range", []Value{Handle(1), Uint(1 << 40), String("rent")}},
		{"negative", []Value{Handle(1), Int(-1), String("rent")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sig.CheckArgs(tt.args)
			if !errors.Is(err, nerrors.ErrCaller) {
				t.Fatalf("expected caller error, got %v", err)
			}
		})
	}
}

func TestSignature_CheckArgs_SignedRange(t *testing.T) {
	sig := Signature{Name: "f", Params: []Param{{Kind: KindInt, Bits: 8}}}
	if err := sig.CheckArgs([]Value{Int(-128)}); err != nil {
		t.Errorf("-128 must fit s8: %v", err)
	}
	if err := sig.CheckArgs([]Value{Int(128)}); err == nil {
		t.Error("128 must not fit s8")
	}
}

func TestSignature_CheckResult(t *testing.T) {
	sig := Signature{Name: "balance", Results: []Param{{Kind: KindUint}}}
	if err := sig.CheckResult(Uint(5)); err != nil {
		t.Fatalf("valid result rejected: %v", err)
	}
	err := sig.CheckResult(String("5"))
	if nerrors.KindOf(err) != nerrors.KindInvalidResponse {
		t.Fatalf("expected invalid response, got %v", err)
	}

	void := Signature{Name: "reset"}
	if err := void.CheckResult(Int(1)); err == nil {
		t.Fatal("non-void result must be rejected for void function")
	}
}
