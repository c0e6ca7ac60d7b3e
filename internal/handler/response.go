package handler

// Every error response has the same shape:
//
//	{"error": "userEmail is required", "code": "validation_error"}
//
// "error" is safe to show to a user; "code" is for programs.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/proservice/internal/apperror"
)

// ErrorResponse is the standard error body returned by all API endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON sends a JSON response with the given status code. Headers must
// be set before WriteHeader; anything set afterwards is silently dropped.
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

// statusFor maps a domain error to its HTTP status and machine code.
//
// errors.Is walks the Unwrap chain, so an AppError wrapped by fmt.Errorf
// with %w still matches its sentinel.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrAuthenticity):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, apperror.ErrProviderRejected):
		return http.StatusBadRequest, "provider_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrConfiguration):
		return http.StatusInternalServerError, "configuration_error"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, apperror.ErrStorage):
		return http.StatusInternalServerError, "storage_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError sends the mapped status and the AppError's message. Unknown
// errors get a generic message: raw errors can carry SQL, paths or
// provider internals and never reach the client.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)

	msg := "an internal error occurred"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
