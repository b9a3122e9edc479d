// Package olrerr implements the (code, category, payload) error shape
// described by the error handling design: every fallible operation in
// the pipeline returns one of these so callers can decide fatal vs.
// warn-and-continue without string-matching messages.
package olrerr

import "fmt"

// Category classifies an error for the purposes of the fatal/non-fatal
// decision table.
type Category int

const (
	Configuration Category = iota
	Network
	Data
	Redo
	Runtime
)

func (c Category) String() string {
	switch c {
	case Configuration:
		return "configuration"
	case Network:
		return "network"
	case Data:
		return "data"
	case Redo:
		return "redo"
	case Runtime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced throughout the pipeline.
type Error struct {
	code     string
	category Category
	payload  string
	cause    error
}

func New(category Category, code, payload string) *Error {
	return &Error{code: code, category: category, payload: payload}
}

func Wrap(category Category, code, payload string, cause error) *Error {
	return &Error{code: code, category: category, payload: payload, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s [%s] %s: %s", e.category, e.code, e.payload, e.cause)
	}
	return fmt.Sprintf("%s [%s] %s", e.category, e.code, e.payload)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Category() Category {
	return e.category
}

func (e *Error) Code() string {
	return e.code
}

// Fatal reports whether an error of this category is fatal by default,
// per the error handling design table. Configuration and Runtime are
// always fatal; Network is never fatal inside the Writer; Data and Redo
// depend on the ignoreData flag, which the caller supplies because only
// the caller knows whether IGNORE_DATA_ERRORS is set at this point.
func (e *Error) Fatal(ignoreData bool) bool {
	switch e.category {
	case Configuration, Runtime:
		return true
	case Network:
		return false
	case Data, Redo:
		return !ignoreData
	default:
		return true
	}
}

// ConfigurationError constructs a Configuration-category error.
func ConfigurationError(code, payload string) *Error {
	return New(Configuration, code, payload)
}

// NetworkError constructs a Network-category error.
func NetworkError(code, payload string) *Error {
	return New(Network, code, payload)
}

// DataError constructs a Data-category error.
func DataError(code, payload string) *Error {
	return New(Data, code, payload)
}

// RedoError constructs a Redo-category error.
func RedoError(code, payload string) *Error {
	return New(Redo, code, payload)
}

// RuntimeError constructs a Runtime-category error.
func RuntimeError(code, payload string) *Error {
	return New(Runtime, code, payload)
}
