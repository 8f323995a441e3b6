// Package validate provides composable pre-condition checks for arguments
// headed across the native boundary.
//
// Validators accept plain Go values or native.Value and report a Result
// with a message and a suggestion. Check and Args turn failures into
// caller errors, which are never retried and never count against a
// circuit.
//
//	rules := []validate.Rule{
//		validate.Arg(0, "address", validate.Required(), validate.Length(64, 64)),
//		validate.Arg(1, "amount", validate.Range(1, 1<<53)),
//	}
//	if err := validate.Args(args, rules...); err != nil {
//		return err
//	}
package validate
