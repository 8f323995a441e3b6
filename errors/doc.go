// Package errors provides structured, classified error types for nativeguard.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The kinds caller, transient, fatal, disposed and circuit_open form
// the classification taxonomy: calling code can tell "try again later" from
// "fix your input" from "the native layer is down".
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindTransient).
//		Op("wallet_balance").
//		Endpoint("wallet").
//		Attempts(3).
//		Cause(nativeErr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Disposed("wallet_balance", "wallet handle 7")
//	err := errors.CircuitOpen(errors.PhaseCall, op, endpoint, "open")
//
// Match on kind alone with the sentinels:
//
//	if errors.Is(err, errors.ErrCircuitOpen) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
