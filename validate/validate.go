package validate

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/native"
)

// Result is the outcome of a validation.
type Result struct {
	Message    string
	Suggestion string
	Valid      bool
}

// OK is the passing result.
var OK = Result{Valid: true}

// Fail builds a failing result.
func Fail(message, suggestion string) Result {
	return Result{Message: message, Suggestion: suggestion}
}

// Validator checks a single value.
type Validator interface {
	Validate(v any) Result
}

// Func adapts a function to Validator.
type Func func(v any) Result

func (f Func) Validate(v any) Result { return f(v) }

// Check runs val against v and returns a caller error naming field when it
// fails.
func Check(field string, v any, val Validator) error {
	res := val.Validate(v)
	if res.Valid {
		return nil
	}
	b := errors.New(errors.PhaseValidate, errors.KindCaller).
		Op(field).
		Detail("%s: %s", field, res.Message)
	if res.Suggestion != "" {
		b.Detail("%s: %s (%s)", field, res.Message, res.Suggestion)
	}
	return b.Build()
}

// Required rejects nil, empty strings, empty byte slices and void values.
func Required() Validator {
	return Func(func(v any) Result {
		v = unwrap(v)
		switch x := v.(type) {
		case nil:
			return Fail("value is required", "provide a non-empty value")
		case string:
			if x == "" {
				return Fail("value is required", "provide a non-empty value")
			}
		case []byte:
			if len(x) == 0 {
				return Fail("value is required", "provide a non-empty value")
			}
		}
		return OK
	})
}

// Length bounds the length of strings, byte slices and lists. A negative
// bound is ignored.
func Length(min, max int) Validator {
	return Func(func(v any) Result {
		n, ok := lengthOf(unwrap(v))
		if !ok {
			return Fail(fmt.Sprintf("%s has no length", typeName(v)), "provide a string, bytes or list")
		}
		if min >= 0 && n < min {
			return Fail(fmt.Sprintf("length must be at least %d, got %d", min, n),
				fmt.Sprintf("provide at least %d characters or items", min))
		}
		if max >= 0 && n > max {
			return Fail(fmt.Sprintf("length must be at most %d, got %d", max, n),
				fmt.Sprintf("provide at most %d characters or items", max))
		}
		return OK
	})
}

// Range bounds a numeric value inclusively.
func Range(min, max float64) Validator {
	return Func(func(v any) Result {
		f, ok := numberOf(unwrap(v))
		if !ok {
			return Fail(fmt.Sprintf("%s is not a number", typeName(v)), "provide a numeric value")
		}
		if f < min || f > max {
			return Fail(fmt.Sprintf("value %v out of range [%v, %v]", f, min, max),
				fmt.Sprintf("provide a value between %v and %v", min, max))
		}
		return OK
	})
}

// Pattern requires a string matching expr. It panics if expr does not
// compile.
func Pattern(expr, message string) Validator {
	re := regexp.MustCompile(expr)
	return Func(func(v any) Result {
		s, ok := unwrap(v).(string)
		if !ok {
			return Fail("value must be a string", "provide a string value")
		}
		if !re.MatchString(s) {
			return Fail(message, "match "+expr)
		}
		return OK
	})
}

// OneOf requires a value equal to one of allowed.
func OneOf[T comparable](allowed ...T) Validator {
	return Func(func(v any) Result {
		x, ok := unwrap(v).(T)
		if ok && slices.Contains(allowed, x) {
			return OK
		}
		opts := make([]string, len(allowed))
		for i, a := range allowed {
			opts[i] = fmt.Sprint(a)
		}
		return Fail(fmt.Sprintf("value %v is not allowed", unwrap(v)),
			"use one of: "+strings.Join(opts, ", "))
	})
}

// AllOf passes when every validator passes and reports the first failure.
func AllOf(vals ...Validator) Validator {
	return Func(func(v any) Result {
		for _, val := range vals {
			if res := val.Validate(v); !res.Valid {
				return res
			}
		}
		return OK
	})
}

// AnyOf passes when at least one validator passes.
func AnyOf(vals ...Validator) Validator {
	return Func(func(v any) Result {
		if len(vals) == 0 {
			return OK
		}
		msgs := make([]string, 0, len(vals))
		for _, val := range vals {
			res := val.Validate(v)
			if res.Valid {
				return OK
			}
			msgs = append(msgs, res.Message)
		}
		return Fail(strings.Join(msgs, "; "), "")
	})
}

// Not inverts val.
func Not(val Validator, message string) Validator {
	return Func(func(v any) Result {
		if val.Validate(v).Valid {
			return Fail(message, "")
		}
		return OK
	})
}

// unwrap converts boundary values to plain Go values so one validator
// serves both.
func unwrap(v any) any {
	nv, ok := v.(native.Value)
	if !ok {
		return v
	}
	switch nv.Kind() {
	case native.KindVoid:
		return nil
	case native.KindBool:
		b, _ := nv.AsBool()
		return b
	case native.KindInt:
		i, _ := nv.AsInt()
		return i
	case native.KindUint, native.KindHandle:
		u, _ := nv.AsUint()
		return u
	case native.KindFloat:
		f, _ := nv.AsFloat()
		return f
	case native.KindString:
		s, _ := nv.AsString()
		return s
	case native.KindBytes:
		b, _ := nv.AsBytes()
		return b
	case native.KindList:
		items, _ := nv.AsList()
		return items
	default:
		return nv
	}
}

func lengthOf(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		return len([]rune(x)), true
	case []byte:
		return len(x), true
	case nil:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

func numberOf(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	if nv, ok := v.(native.Value); ok {
		return nv.Kind().String()
	}
	return fmt.Sprintf("%T", v)
}
