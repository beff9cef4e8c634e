package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProperty indicates that a property definition could not be compiled
	ErrInvalidProperty = errors.New("invalid property definition")

	// ErrMissingKey indicates that a parser was configured without a key locator
	ErrMissingKey = errors.New("missing key locator")

	// ErrInvalidShape indicates an unknown row shape or a definition that does not match it
	ErrInvalidShape = errors.New("invalid row shape")

	// ErrInvalidDefinition indicates that a definition document is malformed
	ErrInvalidDefinition = errors.New("invalid definition document")

	// ErrUnknownReference indicates that a definition refers to a name that does not exist
	ErrUnknownReference = errors.New("unknown definition reference")

	// ErrComputeFailed indicates that a computed property returned an error
	ErrComputeFailed = errors.New("computed property failed")

	// ErrStreamEnded indicates a write after the stream received end-of-input
	ErrStreamEnded = errors.New("stream already ended")

	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrPublishFailed indicates that a message could not be published
	ErrPublishFailed = errors.New("publish failed")
)

// Error codes carried by *Error.
const (
	CodeInvalidProperty   = "invalid_property"
	CodeMissingKey        = "missing_key"
	CodeInvalidShape      = "invalid_shape"
	CodeInvalidDefinition = "invalid_definition"
	CodeComputeFailed     = "compute_failed"
	CodePublishFailed     = "publish_failed"
)

// Error represents a structured error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error code.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Code]
	return ok && target == sentinel
}

var sentinels = map[string]error{
	CodeInvalidProperty:   ErrInvalidProperty,
	CodeMissingKey:        ErrMissingKey,
	CodeInvalidShape:      ErrInvalidShape,
	CodeInvalidDefinition: ErrInvalidDefinition,
	CodeComputeFailed:     ErrComputeFailed,
	CodePublishFailed:     ErrPublishFailed,
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// InvalidProperty builds the configuration error raised for a property that cannot be compiled.
func InvalidProperty(name string, format string, args ...any) *Error {
	return NewError(CodeInvalidProperty,
		fmt.Sprintf("property %q: %s", name, fmt.Sprintf(format, args...)),
		ErrInvalidProperty)
}

// ComputeFailed wraps the failure of a computed property.
// Both ErrComputeFailed and cause are reachable through errors.Is.
func ComputeFailed(name string, cause error) *Error {
	return NewError(CodeComputeFailed, fmt.Sprintf("property %q", name), cause)
}

// IsConfigError reports whether err was raised while compiling a parser or a definition.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidProperty) ||
		errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrInvalidShape) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrUnknownReference)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
