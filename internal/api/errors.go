package api

import (
	"errors"
	"net/http"

	"github.com/docuflux/courier-api/internal/backpressure"
	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrConcurrency),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, backpressure.ErrDraftNotReady):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrPolicyFieldOutOfRange),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrDeliveryNotFound):
		return "Delivery not found"

	case errors.Is(err, store.ErrPolicyNotFound):
		return "Backpressure policy not found"

	case errors.Is(err, store.ErrDraftNotFound):
		return "Policy draft not found"

	case errors.Is(err, store.ErrGuardianPolicyNotFound):
		return "Guardian policy not found"

	case errors.Is(err, store.ErrNotFound):
		return "Not found"

	case errors.Is(err, store.ErrConcurrency):
		return "Conflicting concurrent update, retry the request"

	case errors.Is(err, store.ErrDuplicate):
		return "Already exists"

	case errors.Is(err, backpressure.ErrDraftNotReady):
		return "Draft is not ready to apply"

	case errors.Is(err, domain.ErrPolicyFieldOutOfRange):
		return "Policy field out of range"

	case errors.Is(err, domain.ErrEmptyPatch):
		return "Patch must set at least one field"

	case errors.Is(err, domain.ErrActorEmpty):
		return "Actor is required"

	case errors.Is(err, domain.ErrInvalidTransition):
		return "Invalid delivery status transition"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	default:
		return "An unexpected error occurred"
	}
}
