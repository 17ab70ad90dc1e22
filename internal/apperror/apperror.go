// Package apperror defines the domain errors shared by every layer.
//
// Each AppError wraps one sentinel so callers can branch with errors.Is,
// while the Message stays safe to show to a client. The HTTP layer owns the
// mapping from sentinel to status code (see handler.writeError).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("Validation Error")
	ErrConflict    = errors.New("conflict")
	ErrUnsupported = errors.New("unsupported language")
	ErrSetup       = errors.New("setup failed")
	ErrTransport   = errors.New("sandbox unavailable")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, logged but never sent to clients
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// UnsupportedLanguage reports a language that has no single-file execution
// profile.
func UnsupportedLanguage(language string) *AppError {
	return &AppError{
		Err:     ErrUnsupported,
		Message: fmt.Sprintf("language %q is not supported for execution", language),
		Field:   "language",
	}
}

// FrameworkLanguage rejects a framework such as react. Frameworks are
// rendered in the browser preview, never executed in a sandbox.
func FrameworkLanguage(language string) *AppError {
	return &AppError{
		Err:     ErrUnsupported,
		Message: fmt.Sprintf("%q is a framework: it is rendered in the browser preview, not executed", language),
		Field:   "language",
	}
}

// SetupFailed reports that source could not be materialized in the sandbox.
func SetupFailed(path string, cause error) *AppError {
	return &AppError{
		Err:     ErrSetup,
		Message: fmt.Sprintf("failed to prepare %s in sandbox", path),
		Cause:   cause,
	}
}

// SandboxUnavailable reports that a call to the sandbox itself could not be
// completed. This is the only failure class eligible for retries.
func SandboxUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrTransport,
		Message: fmt.Sprintf("sandbox unavailable during %s", op),
		Cause:   cause,
	}
}
