package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // native library loading
	PhaseCall     Phase = "call"     // single native invocation
	PhaseBatch    Phase = "batch"    // coalesced native invocation
	PhaseResource Phase = "resource" // handle lifecycle
	PhaseMemory   Phase = "memory"   // pressure monitoring
	PhaseValidate Phase = "validate" // argument pre-conditions
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseParse    Phase = "parse"    // WIT signature parsing
)

// Kind categorizes the error. The first five kinds form the classification
// taxonomy that drives retry and circuit decisions.
type Kind string

const (
	KindCaller          Kind = "caller"           // invalid arguments, permanent
	KindTransient       Kind = "transient"        // busy, timeout; retried
	KindFatal           Kind = "fatal"            // native boundary unusable
	KindDisposed        Kind = "disposed"         // resource already released
	KindCircuitOpen     Kind = "circuit_open"     // fail-fast rejection
	KindBackpressure    Kind = "backpressure"     // queue full or rate limited
	KindInvalidResponse Kind = "invalid_response" // native result did not match the request
	KindNotFound        Kind = "not_found"
	KindNotInitialized  Kind = "not_initialized"
	KindInvalidInput    Kind = "invalid_input"
	KindClosed          Kind = "closed"
)

// Error is the structured error type surfaced by every package of the module.
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Op       string
	Endpoint string
	Circuit  string
	Detail   string
	Attempts int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if e.Endpoint != "" && e.Endpoint != e.Op {
		b.WriteString(" (endpoint ")
		b.WriteString(e.Endpoint)
		b.WriteByte(')')
	}

	if e.Circuit != "" {
		b.WriteString(" [circuit ")
		b.WriteString(e.Circuit)
		b.WriteByte(']')
	}

	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target with an empty
// Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Sentinels for errors.Is matching on kind only.
var (
	ErrCaller       = &Error{Kind: KindCaller}
	ErrTransient    = &Error{Kind: KindTransient}
	ErrFatal        = &Error{Kind: KindFatal}
	ErrDisposed     = &Error{Kind: KindDisposed}
	ErrCircuitOpen  = &Error{Kind: KindCircuitOpen}
	ErrBackpressure = &Error{Kind: KindBackpressure}
	ErrClosed       = &Error{Kind: KindClosed}
)

// KindOf returns the kind of the outermost *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether calling code may try the same request again
// later without changing it.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindCircuitOpen, KindBackpressure:
		return true
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Endpoint sets the circuit endpoint
func (b *Builder) Endpoint(endpoint string) *Builder {
	b.err.Endpoint = endpoint
	return b
}

// Circuit sets the circuit state observed when the error was produced
func (b *Builder) Circuit(state string) *Builder {
	b.err.Circuit = state
	return b
}

// Attempts sets the number of native invocations made
func (b *Builder) Attempts(n int) *Builder {
	b.err.Attempts = n
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Caller creates a permanent caller error
func Caller(phase Phase, op, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCaller,
		Op:     op,
		Detail: detail,
	}
}

// Disposed creates a resource-disposed error
func Disposed(op, what string) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindDisposed,
		Op:     op,
		Detail: fmt.Sprintf("%s already disposed", what),
	}
}

// CircuitOpen creates a fail-fast rejection error
func CircuitOpen(phase Phase, op, endpoint, state string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindCircuitOpen,
		Op:       op,
		Endpoint: endpoint,
		Circuit:  state,
		Detail:   "native endpoint is not accepting calls",
	}
}

// Backpressure creates a rejection error for a saturated queue
func Backpressure(op, detail string) *Error {
	return &Error{
		Phase:  PhaseBatch,
		Kind:   KindBackpressure,
		Op:     op,
		Detail: detail,
	}
}

// Closed creates an error for operations on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Cancelled wraps a context error observed while waiting for an outcome.
// The kind is transient: the request itself was never judged.
func Cancelled(phase Phase, op string, ctxErr error) *Error {
	detail := "caller abandoned the request"
	if stderrors.Is(ctxErr, context.DeadlineExceeded) {
		detail = "caller deadline exceeded"
	}
	return &Error{
		Phase:  phase,
		Kind:   KindTransient,
		Op:     op,
		Detail: detail,
		Cause:  ctxErr,
	}
}

// NotInitialized creates a not-initialized error for a missing component
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a native library loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindFatal,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
