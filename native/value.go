package native

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/nativeguard/resource"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindHandle
	KindList
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindHandle:
		return "handle"
	case KindList:
		return "list"
	case KindError:
		return "error"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged union of everything that can cross the native boundary.
// Values are immutable once built.
type Value struct {
	str  string
	list []Value
	raw  []byte
	bits uint64
	code Code
	kind Kind
}

// Void is the result of a native function that returns nothing.
func Void() Value { return Value{} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.bits = 1
	}
	return v
}

func Int(i int64) Value { return Value{kind: KindInt, bits: uint64(i)} }

func Uint(u uint64) Value { return Value{kind: KindUint, bits: u} }

func Float(f float64) Value { return Value{kind: KindFloat, bits: math.Float64bits(f)} }

func String(s string) Value { return Value{kind: KindString, str: s} }

// Bytes copies b.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: append([]byte(nil), b...)}
}

// Handle carries a native object identifier.
func Handle(id resource.NativeID) Value {
	return Value{kind: KindHandle, bits: uint64(id)}
}

// List copies items.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// ErrorValue is a per-item failure inside a batch result.
func ErrorValue(code Code, msg string) Value {
	return Value{kind: KindError, code: code, str: msg}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsVoid() bool { return v.kind == KindVoid }

func (v Value) AsBool() (bool, bool) {
	return v.bits != 0, v.kind == KindBool
}

// AsInt returns the value as int64. Uint values that fit are accepted.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return int64(v.bits), true
	case KindUint:
		if v.bits <= math.MaxInt64 {
			return int64(v.bits), true
		}
	}
	return 0, false
}

// AsUint returns the value as uint64. Non-negative Int values and handles
// are accepted.
func (v Value) AsUint() (uint64, bool) {
	switch v.kind {
	case KindUint, KindHandle:
		return v.bits, true
	case KindInt:
		if int64(v.bits) >= 0 {
			return v.bits, true
		}
	}
	return 0, false
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return math.Float64frombits(v.bits), true
	case KindInt:
		return float64(int64(v.bits)), true
	case KindUint:
		return float64(v.bits), true
	}
	return 0, false
}

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsBytes returns a copy of the byte payload.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return append([]byte(nil), v.raw...), true
}

func (v Value) AsHandle() (resource.NativeID, bool) {
	return resource.NativeID(v.bits), v.kind == KindHandle
}

// AsList returns a copy of the list items.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]Value(nil), v.list...), true
}

// Len returns the number of list items, or 0 for non-list values.
func (v Value) Len() int { return len(v.list) }

// Index returns list item i.
func (v Value) Index(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Void()
	}
	return v.list[i]
}

// AsError returns the failure carried by an ErrorValue.
func (v Value) AsError() (*StatusError, bool) {
	if v.kind != KindError {
		return nil, false
	}
	return &StatusError{Code: v.code, Message: v.str}, true
}

func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "()"
	case KindBool:
		return strconv.FormatBool(v.bits != 0)
	case KindInt:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindUint:
		return strconv.FormatUint(v.bits, 10)
	case KindFloat:
		return strconv.FormatFloat(math.Float64frombits(v.bits), 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.raw))
	case KindHandle:
		return "handle#" + strconv.FormatUint(v.bits, 10)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindError:
		return fmt.Sprintf("error(%s: %s)", v.code, v.str)
	default:
		return v.kind.String()
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.bits != o.bits || v.str != o.str || v.code != o.code {
		return false
	}
	if string(v.raw) != string(o.raw) || len(v.list) != len(o.list) {
		return false
	}
	for i := range v.list {
		if !v.list[i].Equal(o.list[i]) {
			return false
		}
	}
	return true
}

// FromGo converts common Go values into a Value. It is meant for command
// line and test inputs; library code builds Values with the constructors.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Void(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint8:
		return Uint(uint64(t)), nil
	case uint16:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case resource.NativeID:
		return Handle(t), nil
	case *resource.Handle:
		return Handle(t.ID()), nil
	case []Value:
		return List(t...), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			v, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported native value type %T", x)
	}
}
