// Package apperror defines the error taxonomy shared by every layer of the service.
//
// Each AppError wraps one of the sentinel errors below. Callers branch with errors.Is
// (which kind of failure?) and errors.As (what is the human-readable message?).
// The HTTP layer is the only place that turns these kinds into status codes.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("Validation Error")
	ErrParse          = errors.New("parse error")
	ErrConfig         = errors.New("configuration error")
	ErrExecution      = errors.New("execution error")
	ErrInfrastructure = errors.New("infrastructure error")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Line    int    // Optional: 1-based source line (parse errors)
	Cause   error  // Optional: underlying error, never shown to callers
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
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

// ParseFailed reports source that could not be instrumented.
func ParseFailed(line int, message string) *AppError {
	return &AppError{
		Err:     ErrParse,
		Message: message,
		Line:    line,
	}
}

// ConfigMissing reports a required external collaborator that is not available.
func ConfigMissing(message string) *AppError {
	return &AppError{
		Err:     ErrConfig,
		Message: message,
	}
}

// ExecutionFailed reports a runtime exception or timeout inside user code.
func ExecutionFailed(message string) *AppError {
	return &AppError{
		Err:     ErrExecution,
		Message: message,
	}
}

// InfrastructureFailed reports a failure unrelated to the caller's code,
// such as a subprocess that could not be spawned or produced garbage.
func InfrastructureFailed(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrInfrastructure,
		Message: message,
		Cause:   cause,
	}
}
