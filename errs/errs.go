// Package errs defines the discriminated error kinds shared by every
// component of the core: the arena, the ring channels, the stack
// adapter, the socket server, and the traffic generator all return
// errors tagged with one of these codes so that callers (and,
// ultimately, the client-side socket shim) can map them onto the
// right errno or API response.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package errs

import "fmt"

// Code enumerates the error kinds from the error handling design.
type Code int

const (
	OK Code = iota
	Invalid
	NotFound
	NotSocket
	NotConn
	AlreadyExists
	OutOfMemory
	OutOfRange
	Corrupted
	DoubleFree
	Again
	NoProtoOpt
	Timeout
	IndexOverflow
	Internal
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Invalid:
		return "invalid"
	case NotFound:
		return "not_found"
	case NotSocket:
		return "not_socket"
	case NotConn:
		return "not_conn"
	case AlreadyExists:
		return "already_exists"
	case OutOfMemory:
		return "out_of_memory"
	case OutOfRange:
		return "out_of_range"
	case Corrupted:
		return "corrupted"
	case DoubleFree:
		return "double_free"
	case Again:
		return "again"
	case NoProtoOpt:
		return "no_proto_opt"
	case Timeout:
		return "timeout"
	case IndexOverflow:
		return "index_overflow"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a structured error carrying a Code plus optional context
// and an underlying cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error around an existing cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithContext attaches a key/value pair for diagnostics and returns
// the receiver for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the Code from err, returning Internal if err does
// not carry one.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
