package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures
type ErrorType string

const (
	ErrorTypeSyntax   ErrorType = "syntax_error"
	ErrorTypeRuntime  ErrorType = "runtime_error"
	ErrorTypeTimeout  ErrorType = "timeout_error"
	ErrorTypeSecurity ErrorType = "security_error"
	ErrorTypeInternal ErrorType = "internal_error"
)

// Error is a structured JavaScript failure
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
	Column  int       `json:"column,omitempty"`
	Source  string    `json:"source,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&b, ", column %d", e.Column)
		}
	}
	return b.String()
}

// fromRunError converts an error returned by goja into an *Error.
func fromRunError(err error, timedOut bool) *Error {
	var interrupted *goja.InterruptedError
	if timedOut || errors.As(err, &interrupted) {
		return &Error{Type: ErrorTypeTimeout, Message: "evaluation interrupted"}
	}

	// Errors thrown by host functions (the sandbox) come back wrapped.
	var inner *Error
	if errors.As(err, &inner) {
		return inner
	}

	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return &Error{Type: ErrorTypeInternal, Message: err.Error()}
	}

	out := &Error{Type: ErrorTypeRuntime, Message: exc.Error()}
	out.Line, out.Column = firstFrame(exc)
	return out
}

// fromCompileError converts a compilation failure into a syntax error.
func fromCompileError(err error, source string) *Error {
	out := &Error{Type: ErrorTypeSyntax, Message: err.Error(), Source: source}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) && syntax.File != nil {
		pos := syntax.File.Position(syntax.Offset)
		out.Message = syntax.Message
		out.Line, out.Column = pos.Line, pos.Column
	}
	return out
}

func firstFrame(exc *goja.Exception) (line, column int) {
	for _, frame := range exc.Stack() {
		if p := frame.Position(); p.Line > 0 {
			return p.Line, p.Column
		}
	}
	return 0, 0
}

// newSecurityError reports a sandbox violation.
func newSecurityError(message string) *Error {
	return &Error{Type: ErrorTypeSecurity, Message: message}
}
