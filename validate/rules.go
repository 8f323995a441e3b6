package validate

import (
	"github.com/wippyai/nativeguard/native"
)

// Rule binds a validator to one positional argument of an operation.
type Rule struct {
	Validator Validator
	Field     string
	Index     int
}

// Arg builds a rule for argument i.
func Arg(i int, field string, vals ...Validator) Rule {
	return Rule{Index: i, Field: field, Validator: AllOf(vals...)}
}

// Args checks every rule against args and returns the first failure. A
// rule whose argument is missing is checked against a void value, so
// Required reports it.
func Args(args []native.Value, rules ...Rule) error {
	for _, r := range rules {
		v := native.Void()
		if r.Index >= 0 && r.Index < len(args) {
			v = args[r.Index]
		}
		if err := Check(r.Field, v, r.Validator); err != nil {
			return err
		}
	}
	return nil
}
