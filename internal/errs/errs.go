// Package errs defines the error taxonomy shared across the chart pipeline.
//
// Every failure that can reach a caller is classified into a Kind. The gateway
// maps the Kind to a caller-safe message and a JSON-RPC error code; the
// wrapped internal error is only ever logged server-side.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Internal covers unexpected failures (storage, encoding, bugs).
	Internal Kind = iota
	// Unauthorized means the bearer credential was missing or wrong.
	Unauthorized
	// InvalidArgument means the tool-call arguments failed validation.
	InvalidArgument
	// UnknownAsset means the requested asset is not in the catalog snapshot.
	UnknownAsset
	// TooManyRequests means the caller exceeded its in-flight limit.
	TooManyRequests
	// DataUnavailable means the market-data provider failed or timed out.
	DataUnavailable
	// RenderError means the series or style could not be rendered.
	RenderError
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case InvalidArgument:
		return "invalid_argument"
	case UnknownAsset:
		return "unknown_asset"
	case TooManyRequests:
		return "too_many_requests"
	case DataUnavailable:
		return "data_unavailable"
	case RenderError:
		return "render_error"
	default:
		return "internal"
	}
}

// Error carries a caller-safe message alongside the internal cause.
type Error struct {
	Kind Kind
	Msg  string // safe to forward to the caller
	Err  error  // internal detail, logged only
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted caller-safe message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and caller-safe message to an internal error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the caller-safe message for err. Unclassified errors get a
// generic message so internal detail never leaks.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal server error"
}
