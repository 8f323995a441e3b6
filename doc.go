// Package nativeguard makes calls into an opaque native library safe,
// resilient and efficient.
//
// A native library here is anything reached through a foreign-function
// boundary: a table of entry points that take and return plain values and
// hand out opaque handles to objects it owns. nativeguard sits between the
// Go host and that table. It tracks every native object so none leaks or
// is used after release, retries transient failures behind per-endpoint
// circuit breakers, coalesces small calls into batches, and watches memory
// pressure the Go collector cannot see.
//
// # Architecture Overview
//
//	nativeguard/
//	├── runtime/         Facade: acquire, invoke, enqueue, dispose, diagnostics
//	├── native/          Value union, function tables, wasm tables, Loader
//	├── resource/        Handles, disposable resources and the leak-aware Tracker
//	├── call/            Circuit breakers, outcome classification, retries
//	├── batch/           Coalescing queues with per-entry outcomes
//	├── memory/          Pressure monitor and GC coordinator
//	├── validate/        Composable argument validators
//	├── metrics/         Recorder interface with a Prometheus implementation
//	├── config/          YAML configuration with environment overrides
//	├── errors/          Classified structured errors
//	└── cmd/nativectl/   CLI and interactive dashboard
//
// # Quick Start
//
//	loader := native.NewLoader(native.WasmFile("lib.wasm", native.WasmConfig{WIT: witText}))
//	rt, err := runtime.New(ctx, loader)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	v, err := rt.Invoke(ctx, "add", native.Int(40), native.Int(2))
//
// # Error Handling
//
// Every failure is an *errors.Error carrying a phase and a kind. The kind
// decides what happens next:
//
//	caller     invalid input; never retried, circuits unaffected
//	transient  busy or timed out; retried with backoff, counts toward opening
//	fatal      the library is unusable; every circuit opens
//	disposed   the resource was already released
//
// Use errors.Is with the kind sentinels:
//
//	if errors.Is(err, nerrors.ErrCircuitOpen) {
//	    // back off; the endpoint is failing fast
//	}
package nativeguard
