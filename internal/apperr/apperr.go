// Package apperr defines the operation-error plane: errors that abort the
// current operation and leave the engine unchanged, as opposed to CellError
// values that flow through formulas as data.
package apperr

import "fmt"

// Code mirrors a useful subset of gRPC status codes, numeric values
// included, so a client that already understands gRPC codes can interpret
// ours too.
type Code int

const (
	OK                 Code = 0
	Unknown            Code = 2
	InvalidArgument    Code = 3
	NotFound           Code = 5
	AlreadyExists      Code = 6
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
)

// Kind further classifies operation errors so callers can branch on the
// failure class without string-matching Error().
type Kind string

const (
	SheetSizeLimitExceeded     Kind = "SheetSizeLimitExceeded"
	InvalidSheet               Kind = "InvalidSheet"
	ConfigType                 Kind = "ConfigType"
	NamedExpressionNameInvalid Kind = "NamedExpressionNameInvalid"
	GraphIntegrity             Kind = "GraphIntegrity"
)

// Error is the application-level error type. It is never embedded inside a
// CellValue; it aborts the call that produced it.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Message
}

// New builds an Error with the given code, kind and message.
func New(code Code, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

// SizeLimit builds a SheetSizeLimitExceeded error for the given dimension.
func SizeLimit(dimension string, limit, got uint32) *Error {
	return New(OutOfRange, SheetSizeLimitExceeded,
		fmt.Sprintf("%s limit exceeded: max %d, got %d", dimension, limit, got))
}

// Invariant builds a GraphIntegrity error for a detected internal
// inconsistency.
func Invariant(message string) *Error {
	return New(Internal, GraphIntegrity, message)
}
