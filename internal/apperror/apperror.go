package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("Validation Error")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrConfiguration    = errors.New("configuration error")
	ErrAuthenticity     = errors.New("authenticity check failed")
	ErrProviderRejected = errors.New("provider rejected request")
	ErrUpstream         = errors.New("upstream unavailable")
	ErrStorage          = errors.New("storage error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, logged but never sent to clients
}

func (e *AppError) Error() string {
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

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned when a request carries no valid identity.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// MissingConfig reports a required secret or setting that is absent.
// It is fatal to the request and is never retried automatically.
func MissingConfig(name string) *AppError {
	return &AppError{
		Err:     ErrConfiguration,
		Message: "server configuration error: billing is not fully configured",
		Field:   name,
	}
}

// Authenticity is returned when a signed payload fails verification.
func Authenticity(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrAuthenticity,
		Message: message,
		Cause:   cause,
	}
}

// ProviderRejected wraps a request the billing provider refused. The
// provider's message is considered safe to show to the caller.
func ProviderRejected(providerMessage string, cause error) *AppError {
	return &AppError{
		Err:     ErrProviderRejected,
		Message: "payment provider error: " + providerMessage,
		Cause:   cause,
	}
}

// Upstream reports a provider that could not be reached or answered garbage.
func Upstream(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: message,
		Cause:   cause,
	}
}

// Storage reports a failed read or write against an entitlement or event store.
func Storage(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorage,
		Message: fmt.Sprintf("storage failure during %s", op),
		Cause:   cause,
	}
}
