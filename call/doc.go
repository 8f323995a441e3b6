// Package call makes native invocations resilient.
//
// A Manager owns one Circuit per endpoint. Failures are classified as
// caller errors (permanent, circuit unaffected), transient errors (retried
// with exponential backoff and counted toward opening the circuit) or fatal
// errors (never retried, every circuit forced open). After FailureThreshold
// consecutive transient failures a circuit opens and rejects calls for
// CoolDown; the next call becomes the single half-open probe and its outcome
// closes or re-opens the circuit.
//
//	m := call.NewManager(call.DefaultConfig(), call.WithRecorder(rec))
//	v, err := m.CallTable(ctx, table, "sign", args)
//
// Each attempt is traced as an OpenTelemetry span.
package call
