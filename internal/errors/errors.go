// Package errors provides error handling utilities.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Type identifies the category of error
type Type string

const (
	// TypeValidation indicates the calculation input failed bound or reference checks
	TypeValidation Type = "VALIDATION_ERROR"

	// TypeRateNotFound indicates no rate record covers the requested date
	TypeRateNotFound Type = "RATE_NOT_FOUND"

	// TypeAmbiguousRate indicates more than one rate record covers the requested date
	TypeAmbiguousRate Type = "AMBIGUOUS_RATE"

	// TypeUnknownEquipment indicates an equipment id absent from the rate tables
	TypeUnknownEquipment Type = "UNKNOWN_EQUIPMENT"

	// TypeRateOverlap indicates a rate window that would overlap an existing one
	TypeRateOverlap Type = "RATE_OVERLAP"

	// TypeMismatch indicates a reproduced calculation differs from the stored one
	TypeMismatch Type = "REPRODUCTION_MISMATCH"

	// TypeParsing indicates a parsing error
	TypeParsing Type = "PARSING_ERROR"

	// TypeConfig indicates a configuration error
	TypeConfig Type = "CONFIG_ERROR"

	// TypeNotFound indicates a resource not found error
	TypeNotFound Type = "NOT_FOUND"

	// TypeConflict indicates a write that would replace an immutable record
	TypeConflict Type = "CONFLICT"

	// TypeNetwork indicates a network error
	TypeNetwork Type = "NETWORK_ERROR"

	// TypeInternal indicates an internal error
	TypeInternal Type = "INTERNAL_ERROR"
)

// priority orders kinds for KindOf. Lower index wins.
var priority = []Type{
	TypeAmbiguousRate,
	TypeUnknownEquipment,
	TypeRateNotFound,
	TypeValidation,
	TypeMismatch,
	TypeRateOverlap,
	TypeConflict,
	TypeNotFound,
	TypeParsing,
	TypeConfig,
	TypeNetwork,
	TypeInternal,
}

// Kinded is implemented by domain errors that know their category
type Kinded interface {
	Kind() Type
}

// Error represents a domain error with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Kind implements Kinded
func (e *Error) Kind() Type {
	return e.Type
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(errType Type, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// KindOf classifies err by walking its whole wrap tree.
// When several kinds are present the most specific one wins:
// ambiguous > unknown equipment > rate not found > validation > the rest.
// Errors that carry no kind are TypeInternal.
func KindOf(err error) Type {
	if err == nil {
		return ""
	}
	found := make(map[Type]bool)
	collect(err, found)
	for _, t := range priority {
		if found[t] {
			return t
		}
	}
	return TypeInternal
}

func collect(err error, found map[Type]bool) {
	if err == nil {
		return
	}
	if k, ok := err.(Kinded); ok {
		found[k.Kind()] = true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		collect(u.Unwrap(), found)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			collect(e, found)
		}
	}
}

// IsType reports whether any error in err's tree has the given kind
func IsType(err error, t Type) bool {
	found := make(map[Type]bool)
	collect(err, found)
	return found[t]
}

// Retryable reports whether repeating the same operation could succeed.
// Calculation errors are deterministic and never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case TypeNetwork:
		return true
	default:
		return false
	}
}

// As is errors.As, re-exported so callers importing this package need not alias the stdlib
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Parsing creates a parsing error
func Parsing(message string, cause error) *Error {
	return Wrap(TypeParsing, message, cause)
}

// Config creates a configuration error
func Config(message string, cause error) *Error {
	return Wrap(TypeConfig, message, cause)
}

// NotFound creates a not found error
func NotFound(resourceType, identifier string) *Error {
	return Newf(TypeNotFound, "%s not found: %s", resourceType, identifier)
}

// Conflict creates a conflict error
func Conflict(resourceType, identifier string) *Error {
	return Newf(TypeConflict, "%s already exists: %s", resourceType, identifier)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(TypeInternal, message, cause)
}
