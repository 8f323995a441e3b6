package native

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/nativeguard/errors"
)

// Param describes one argument or result slot.
type Param struct {
	Name string
	Kind Kind
	// Bits bounds Int and Uint slots; 0 means 64.
	Bits int
	// Elem is the element kind of a List slot.
	Elem Kind
}

// Signature is the declared shape of a native entry point. Arguments are
// checked against it once, at the boundary.
type Signature struct {
	Name    string
	Params  []Param
	Results []Param
}

// Arity returns the number of parameters.
func (s Signature) Arity() int { return len(s.Params) }

// CheckArgs verifies args against the declared parameters.
func (s Signature) CheckArgs(args []Value) error {
	if len(args) != len(s.Params) {
		return errors.Caller(errors.PhaseValidate, s.Name,
			fmt.Sprintf("expected %d arguments, got %d", len(s.Params), len(args)))
	}
	for i, p := range s.Params {
		if err := p.check(args[i]); err != nil {
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return errors.Caller(errors.PhaseValidate, s.Name,
				fmt.Sprintf("argument %s: %v", name, err))
		}
	}
	return nil
}

// CheckResult verifies a native result against the declared results. A
// function with no results must return Void.
func (s Signature) CheckResult(v Value) error {
	var err error
	switch len(s.Results) {
	case 0:
		if !v.IsVoid() {
			err = fmt.Errorf("expected no result, got %s", v.Kind())
		}
	case 1:
		err = s.Results[0].check(v)
	default:
		if v.Kind() != KindList || v.Len() != len(s.Results) {
			err = fmt.Errorf("expected %d results", len(s.Results))
			break
		}
		for i, p := range s.Results {
			if err = p.check(v.Index(i)); err != nil {
				break
			}
		}
	}
	if err != nil {
		return errors.New(errors.PhaseCall, errors.KindInvalidResponse).
			Op(s.Name).
			Detail("result: %v", err).
			Build()
	}
	return nil
}

func (p Param) check(v Value) error {
	switch p.Kind {
	case KindInt:
		i, ok := v.AsInt()
		if !ok {
			return fmt.Errorf("expected int, got %s", v.Kind())
		}
		if bits := p.bits(); bits < 64 {
			lim := int64(1) << (bits - 1)
			if i < -lim || i >= lim {
				return fmt.Errorf("%d out of range for s%d", i, bits)
			}
		}
	case KindUint:
		u, ok := v.AsUint()
		if !ok {
			return fmt.Errorf("expected uint, got %s", v.Kind())
		}
		if bits := p.bits(); bits < 64 && u > uint64(1)<<bits-1 {
			return fmt.Errorf("%d out of range for u%d", u, bits)
		}
	case KindFloat:
		f, ok := v.AsFloat()
		if !ok {
			return fmt.Errorf("expected float, got %s", v.Kind())
		}
		if p.Bits == 32 && !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return fmt.Errorf("%g out of range for f32", f)
		}
	case KindHandle:
		if _, ok := v.AsUint(); !ok {
			return fmt.Errorf("expected handle, got %s", v.Kind())
		}
	case KindList:
		items, ok := v.AsList()
		if !ok {
			return fmt.Errorf("expected list, got %s", v.Kind())
		}
		if p.Elem != KindVoid {
			for i, item := range items {
				if item.Kind() != p.Elem {
					return fmt.Errorf("item %d: expected %s, got %s", i, p.Elem, item.Kind())
				}
			}
		}
	default:
		if v.Kind() != p.Kind {
			return fmt.Errorf("expected %s, got %s", p.Kind, v.Kind())
		}
	}
	return nil
}

func (p Param) bits() int {
	if p.Bits == 0 {
		return 64
	}
	return p.Bits
}

var witFuncPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseWIT extracts function signatures from WIT text of the form
//
//	name: func(a: s32, b: s32) -> s32;
func ParseWIT(witText string) (map[string]Signature, error) {
	sigs := make(map[string]Signature)

	for _, match := range witFuncPattern.FindAllStringSubmatch(witText, -1) {
		sig := Signature{Name: match[1]}

		for _, part := range splitParams(strings.TrimSpace(match[2])) {
			name, typ := "", part
			if idx := strings.Index(part, ":"); idx != -1 {
				name = strings.TrimSpace(part[:idx])
				typ = strings.TrimSpace(part[idx+1:])
			}
			p, err := parseWitParam(typ)
			if err != nil {
				return nil, errors.ParseFailed("param type "+typ+" of "+sig.Name, err)
			}
			p.Name = name
			sig.Params = append(sig.Params, p)
		}

		resultStr := strings.TrimSpace(match[3])
		if resultStr != "" && resultStr != "()" {
			parts := []string{resultStr}
			if strings.HasPrefix(resultStr, "(") && strings.HasSuffix(resultStr, ")") {
				parts = splitParams(resultStr[1 : len(resultStr)-1])
			}
			for _, part := range parts {
				if idx := strings.Index(part, ":"); idx != -1 {
					part = strings.TrimSpace(part[idx+1:])
				}
				p, err := parseWitParam(part)
				if err != nil {
					return nil, errors.ParseFailed("result type "+part+" of "+sig.Name, err)
				}
				sig.Results = append(sig.Results, p)
			}
		}

		sigs[sig.Name] = sig
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}
	return sigs, nil
}

// splitParams splits a parameter list on top-level commas.
func splitParams(s string) []string {
	var (
		result  []string
		current strings.Builder
		depth   int
	)
	flush := func() {
		if str := strings.TrimSpace(current.String()); str != "" {
			result = append(result, str)
		}
		current.Reset()
	}

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
		case ')', '>':
			depth--
		case ',':
			if depth == 0 {
				flush()
				continue
			}
		}
		current.WriteRune(ch)
	}
	flush()
	return result
}

func parseWitParam(s string) (Param, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return Param{}, err
	}
	return paramFromWit(t)
}

func paramFromWit(t wit.Type) (Param, error) {
	switch v := t.(type) {
	case wit.Bool:
		return Param{Kind: KindBool}, nil
	case wit.S8:
		return Param{Kind: KindInt, Bits: 8}, nil
	case wit.S16:
		return Param{Kind: KindInt, Bits: 16}, nil
	case wit.S32:
		return Param{Kind: KindInt, Bits: 32}, nil
	case wit.S64:
		return Param{Kind: KindInt, Bits: 64}, nil
	case wit.U8:
		return Param{Kind: KindUint, Bits: 8}, nil
	case wit.U16:
		return Param{Kind: KindUint, Bits: 16}, nil
	case wit.U32:
		return Param{Kind: KindUint, Bits: 32}, nil
	case wit.U64:
		return Param{Kind: KindUint, Bits: 64}, nil
	case wit.F32:
		return Param{Kind: KindFloat, Bits: 32}, nil
	case wit.F64:
		return Param{Kind: KindFloat, Bits: 64}, nil
	case wit.Char, wit.String:
		return Param{Kind: KindString}, nil
	case *wit.TypeDef:
		if list, ok := v.Kind.(*wit.List); ok {
			elem, err := paramFromWit(list.Type)
			if err != nil {
				return Param{}, err
			}
			if elem.Kind == KindUint && elem.Bits == 8 {
				return Param{Kind: KindBytes}, nil
			}
			return Param{Kind: KindList, Elem: elem.Kind}, nil
		}
	}
	return Param{}, fmt.Errorf("unsupported WIT type %T", t)
}
