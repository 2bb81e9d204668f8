// Package sombraerr defines the stable error taxonomy that crosses the
// FFI handle boundary. Every fallible core operation returns (or wraps)
// one of these codes so bindings can translate a failure into their own
// native error mechanism without losing the reason.
package sombraerr

import (
	"errors"
	"fmt"
)

// Code is one of the tags in the stable cross-binding error taxonomy.
type Code string

const (
	Unknown        Code = "Unknown"
	Analyzer       Code = "Analyzer"
	JSON           Code = "Json"
	IO             Code = "Io"
	Corruption     Code = "Corruption"
	Conflict       Code = "Conflict"
	SnapshotTooOld Code = "SnapshotTooOld"
	Cancelled      Code = "Cancelled"
	InvalidArg     Code = "InvalidArg"
	NotFound       Code = "NotFound"
	Closed         Code = "Closed"
)

// Error carries a stable Code plus an optional wrapped cause and enough
// context (page, entity, operator) to diagnose without leaking internals
// such as raw pointers or filesystem paths beyond what the caller already
// supplied.
type Error struct {
	Code    Code
	Op      string // operation that failed, e.g. "createNode", "btree.Get"
	Context string // extra diagnostic context, e.g. "page=42" or "entity=100"
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap builds an Error wrapping cause. If cause is already a *Error, its
// code is reused unless code is explicitly non-empty and different, so
// wrapping an already-tagged error doesn't silently reclassify it.
func Wrap(code Code, op string, cause error) *Error {
	if cause == nil {
		return New(code, op)
	}
	var existing *Error
	if errors.As(cause, &existing) && code == "" {
		code = existing.Code
	}
	return &Error{Code: code, Op: op, Cause: cause}
}

// WithContext attaches diagnostic context and returns the same *Error for
// chaining at the call site.
func (e *Error) WithContext(format string, args ...any) *Error {
	e.Context = fmt.Sprintf(format, args...)
	return e
}

// CodeOf extracts the Code from err. It returns the empty Code if err is
// nil and Unknown if err is not a *Error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is reports whether err's code matches code, unwrapping as needed.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
