package native

import (
	stderrors "errors"
	"fmt"
	"strconv"
)

// Code is an errno-style status reported by a native function.
type Code int32

const (
	CodeOK Code = iota
	CodeInvalidArgument
	CodeBusy
	CodeTimeout
	CodeAgain
	CodeNotFound
	CodeUnsupported
	CodeUnavailable
	CodeCrashed
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeBusy:
		return "busy"
	case CodeTimeout:
		return "timeout"
	case CodeAgain:
		return "again"
	case CodeNotFound:
		return "not_found"
	case CodeUnsupported:
		return "unsupported"
	case CodeUnavailable:
		return "unavailable"
	case CodeCrashed:
		return "crashed"
	default:
		return "code(" + strconv.Itoa(int(c)) + ")"
	}
}

// StatusError is a failure the native library reported through its status
// channel. The native call itself completed.
type StatusError struct {
	Op      string
	Message string
	Code    Code
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Op == "" {
		return fmt.Sprintf("native status %d: %s", e.Code, msg)
	}
	return fmt.Sprintf("native %s: status %d: %s", e.Op, e.Code, msg)
}

// Status returns a StatusError for op.
func Status(op string, code Code, msg string) *StatusError {
	return &StatusError{Op: op, Code: code, Message: msg}
}

// ErrUnavailable is returned by a table whose native library can no longer
// be called: it crashed, trapped or was closed.
var ErrUnavailable = stderrors.New("native library unavailable")

// CodeOf extracts the status code from err's chain.
func CodeOf(err error) (Code, bool) {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Code, true
	}
	return CodeOK, false
}
