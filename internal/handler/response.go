package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError, so every error the
// API returns has the same shape:
//
//	{"error": "unsupported_language", "message": "language \"react\" is not supported for execution"}
//
// The "error" field is machine readable and stable; "message" is for humans.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coderscreen/coderunner/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrValidation   → 400 validation_error
//	ErrUnsupported  → 400 unsupported_language
//	ErrNotFound     → 404 not_found
//	ErrConflict     → 409 conflict
//	ErrSetup        → 500 setup_failed
//	ErrTransport    → 502 sandbox_unavailable
//	deadline        → 504 timeout
//	anything else   → 500 internal_error, details withheld
//
// Compile and runtime failures never reach here: they are 200 responses with
// success=false.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnsupported):
			status = http.StatusBadRequest
			errorType = "unsupported_language"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		case errors.Is(err, apperror.ErrSetup):
			status = http.StatusInternalServerError
			errorType = "setup_failed"
		case errors.Is(err, apperror.ErrTransport):
			status = http.StatusBadGateway
			errorType = "sandbox_unavailable"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{
			Error:   "timeout",
			Message: "the request timed out waiting for the sandbox",
		})
		return
	}

	// The raw message may contain SQL, paths, or container ids.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
