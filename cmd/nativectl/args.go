package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/nativeguard/native"
	"github.com/wippyai/nativeguard/resource"
)

// splitArgs splits a comma-separated argument list. An empty string yields
// no arguments.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseArgs converts raw strings using sig when it is known, or by
// guessing the kind otherwise.
func parseArgs(raw []string, sig *native.Signature) ([]native.Value, error) {
	if sig != nil && len(raw) != len(sig.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", sig.Name, len(sig.Params), len(raw))
	}
	out := make([]native.Value, len(raw))
	for i, s := range raw {
		var (
			v   native.Value
			err error
		)
		if sig != nil {
			v, err = parseArg(s, sig.Params[i])
		} else {
			v = guessArg(s)
		}
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseArg(s string, p native.Param) (native.Value, error) {
	switch p.Kind {
	case native.KindBool:
		b, err := strconv.ParseBool(s)
		return native.Bool(b), err
	case native.KindInt:
		i, err := strconv.ParseInt(s, 0, bitSize(p))
		return native.Int(i), err
	case native.KindUint:
		u, err := strconv.ParseUint(s, 0, bitSize(p))
		return native.Uint(u), err
	case native.KindHandle:
		u, err := strconv.ParseUint(s, 0, 64)
		return native.Handle(resource.NativeID(u)), err
	case native.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		return native.Float(f), err
	case native.KindBytes:
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		return native.Bytes(b), err
	case native.KindString:
		return native.String(s), nil
	default:
		return native.Value{}, fmt.Errorf("cannot enter a %s value on the command line", p.Kind)
	}
}

func bitSize(p native.Param) int {
	if p.Bits == 0 {
		return 64
	}
	return p.Bits
}

func guessArg(s string) native.Value {
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return native.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return native.Float(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return native.Bool(b)
	}
	return native.String(s)
}

func formatSignature(sig native.Signature) string {
	params := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		params[i] = name + ": " + paramType(p)
	}
	out := sig.Name + "(" + strings.Join(params, ", ") + ")"
	if len(sig.Results) > 0 {
		results := make([]string, len(sig.Results))
		for i, r := range sig.Results {
			results[i] = paramType(r)
		}
		out += " -> " + strings.Join(results, ", ")
	}
	return out
}

func paramType(p native.Param) string {
	switch p.Kind {
	case native.KindInt:
		return fmt.Sprintf("s%d", bitSize(p))
	case native.KindUint:
		return fmt.Sprintf("u%d", bitSize(p))
	case native.KindList:
		return "list<" + p.Elem.String() + ">"
	default:
		return p.Kind.String()
	}
}
