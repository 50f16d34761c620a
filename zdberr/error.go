// Package zdberr implements the core's error taxonomy (spec.md §7): a
// single SQL error kind carrying a structured frame, plus an Assert kind
// for programmer errors that are fatal in release as well as debug.
package zdberr

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// Kind distinguishes the two error kinds the core ever raises.
type Kind string

const (
	// KindSQL covers parse, driver I/O, constraint, timeout, parameter-count
	// mismatch, out-of-range index, pool-full, and invalid-URL failures.
	KindSQL Kind = "SQL"

	// KindAssert covers precondition violations: fetch_size < 1,
	// initial > max, and similar programmer errors.
	KindAssert Kind = "Assert"
)

// Error is the single structured error type the core ever returns. It
// carries kind, message, and the call site (function/file/line) it was
// raised from, and wraps an optional underlying cause for errors.Is/As.
type Error struct {
	Kind     Kind
	Message  string
	Function string
	File     string
	Line     int

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Cause implements github.com/pkg/errors' Causer interface.
func (e *Error) Cause() error { return e.cause }

// New builds a KindSQL *Error from a message, capturing the caller's frame.
func New(format string, args ...interface{}) *Error {
	return newError(KindSQL, nil, format, args...)
}

// Wrap builds a KindSQL *Error wrapping cause, capturing the caller's frame.
// If cause is nil, Wrap returns nil, mirroring github.com/pkg/errors.Wrap.
func Wrap(cause error, format string, args ...interface{}) *Error {
	if cause == nil {
		return nil
	}
	return newError(KindSQL, cause, format, args...)
}

// Assert builds a KindAssert *Error and immediately raises it via the
// process-wide abort handler (default: panic). Assert errors are
// precondition violations — they are not meant to be recovered from.
func Assert(format string, args ...interface{}) *Error {
	e := newError(KindAssert, nil, format, args...)
	Raise(e)
	return e
}

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	e := &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
	if cause != nil {
		// Preserve a stack-traced cause so callers can still walk it with
		// errors.Unwrap/errors.As, per github.com/pkg/errors conventions.
		if _, ok := cause.(stackTracer); !ok {
			e.cause = errors.WithStack(cause)
		}
	}
	if pc, file, line, ok := runtime.Caller(2); ok {
		e.File = file
		e.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			e.Function = fn.Name()
		}
	}
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// AbortHandler is called by Raise when an *Error reaches the outermost
// frame uncaught. See spec.md §6.5/§9.
type AbortHandler func(*Error)

var (
	abortMu      sync.Mutex
	abortHandler AbortHandler
)

// SetAbortHandler installs the process-wide abort handler. Pass nil to
// restore the default (panic). Set before ConnectionPool.Start, reset
// after ConnectionPool.Stop, per spec.md §9.
func SetAbortHandler(h AbortHandler) {
	abortMu.Lock()
	defer abortMu.Unlock()
	abortHandler = h
}

// Raise invokes the installed abort handler with e, or panics if none is
// installed. It is meant for callers who have decided an *Error cannot be
// handled locally (e.g. an Assert violation, or a background goroutine
// with no caller to return an error to).
func Raise(e *Error) {
	abortMu.Lock()
	h := abortHandler
	abortMu.Unlock()

	if h != nil {
		h(e)
		return
	}
	panic(e)
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
