package main

import (
	"testing"

	"github.com/wippyai/nativeguard/native"
)

func TestSplitArgs(t *testing.T) {
	if got := splitArgs("  "); got != nil {
		t.Fatalf("expected no args, got %v", got)
	}
	got := splitArgs("1, two ,3")
	if len(got) != 3 || got[1] != "two" {
		t.Fatalf("unexpected split: %q", got)
	}
}

func TestParseArgsWithSignature(t *testing.T) {
	sig := &native.Signature{
		Name: "mix",
		Params: []native.Param{
			{Name: "a", Kind: native.KindInt, Bits: 32},
			{Name: "b", Kind: native.KindUint, Bits: 8},
			{Name: "c", Kind: native.KindBytes},
			{Name: "d", Kind: native.KindString},
		},
	}

	args, err := parseArgs([]string{"-7", "0xff", "0xbeef", "hi"}, sig)
	if err != nil {
		t.Fatalf("parseArgs failed: %v", err)
	}
	if !args[0].Equal(native.Int(-7)) || !args[1].Equal(native.Uint(255)) {
		t.Fatalf("unexpected numbers: %s %s", args[0], args[1])
	}
	if b, _ := args[2].AsBytes(); len(b) != 2 || b[0] != 0xbe {
		t.Fatalf("unexpected bytes: %x", b)
	}

	if _, err := parseArgs([]string{"256", "1", "", ""}, &native.Signature{
		Name:   "narrow",
		Params: []native.Param{{Kind: native.KindUint, Bits: 8}, {Kind: native.KindInt}, {Kind: native.KindString}, {Kind: native.KindString}},
	}); err == nil {
		t.Fatal("expected range error for u8")
	}

	if _, err := parseArgs([]string{"1"}, sig); err == nil {
		t.Fatal("expected arity error")
	}
}

func TestParseArgsGuessesKinds(t *testing.T) {
	args, err := parseArgs([]string{"42", "1.5", "true", "text"}, nil)
	if err != nil {
		t.Fatalf("parseArgs failed: %v", err)
	}
	want := []native.Kind{native.KindInt, native.KindFloat, native.KindBool, native.KindString}
	for i, k := range want {
		if args[i].Kind() != k {
			t.Errorf("arg %d: expected %s, got %s", i, k, args[i].Kind())
		}
	}
}

func TestFormatSignature(t *testing.T) {
	sig := native.Signature{
		Name:    "add",
		Params:  []native.Param{{Name: "a", Kind: native.KindInt, Bits: 32}, {Kind: native.KindList, Elem: native.KindString}},
		Results: []native.Param{{Kind: native.KindInt, Bits: 32}},
	}
	want := "add(a: s32, arg1: list<string>) -> s32"
	if got := formatSignature(sig); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
