package handler

// Every non-result error from the API has the same shape:
//   {"error": "validation_error", "message": "source is required"}
//
// Execution results are written as-is, with the status taken from result.Failed.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/model"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must go out before the body; Encode writes the body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeResult sends an execution result: 200 when it ran to completion, 500 when
// it failed. The body is the same shape either way.
func writeResult(w http.ResponseWriter, result *model.ExecutionResult) {
	status := http.StatusOK
	if result.Failed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

// classify maps a domain error to its HTTP status and machine-readable type.
//
// errors.Is walks the whole chain, so a wrapped AppError still matches:
//
//	fmt.Errorf("listing executions: %w", apperror.ValidationFailed(...))
//	  → AppError{Err: ErrValidation} → ErrValidation ✓
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrParse):
		return http.StatusBadRequest, "parse_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConfig):
		return http.StatusInternalServerError, "config_error"
	case errors.Is(err, apperror.ErrExecution):
		return http.StatusInternalServerError, "execution_error"
	case errors.Is(err, apperror.ErrInfrastructure):
		return http.StatusInternalServerError, "infrastructure_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// errorMessage returns the caller-safe message for err.
//
// Only AppError messages are shown. Anything else might carry SQL, file paths
// or other internals, so it becomes a generic message.
func errorMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "An internal error occurred"
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := classify(err)
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		status, errorType = http.StatusInternalServerError, "internal_error"
	}
	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: errorMessage(err),
	})
}
