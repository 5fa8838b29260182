package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docuflux/courier-api/internal/backpressure"
	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/store"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"delivery not found", store.ErrDeliveryNotFound, http.StatusNotFound},
		{"policy not found", store.ErrPolicyNotFound, http.StatusNotFound},
		{"draft not found", store.ErrDraftNotFound, http.StatusNotFound},
		{"guardian policy not found", store.ErrGuardianPolicyNotFound, http.StatusNotFound},
		{"concurrency conflict", store.ErrConcurrency, http.StatusConflict},
		{"duplicate", store.ErrDuplicate, http.StatusConflict},
		{"draft not ready", backpressure.ErrDraftNotReady, http.StatusConflict},
		{"validation", domain.ErrValidation, http.StatusBadRequest},
		{"invalid ID", domain.ErrInvalidID, http.StatusBadRequest},
		{"field out of range", domain.ErrPolicyFieldOutOfRange, http.StatusBadRequest},
		{"invalid transition", domain.ErrInvalidTransition, http.StatusBadRequest},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped sentinel", fmt.Errorf("loading draft: %w", store.ErrDraftNotFound), http.StatusNotFound},
		{"doubly wrapped", fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyPatch), http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, "An unexpected error occurred"},
		{"delivery not found", store.ErrDeliveryNotFound, "Delivery not found"},
		{"draft not found", store.ErrDraftNotFound, "Policy draft not found"},
		{"concurrency", store.ErrConcurrency, "Conflicting concurrent update, retry the request"},
		{"draft not ready", backpressure.ErrDraftNotReady, "Draft is not ready to apply"},
		{"out of range", domain.ErrPolicyFieldOutOfRange, "Policy field out of range"},
		{"empty patch", domain.ErrEmptyPatch, "Patch must set at least one field"},
		{"invalid transition", domain.ErrInvalidTransition, "Invalid delivery status transition"},
		{"internal details hidden", errors.New("pq: connection reset by peer"), "An unexpected error occurred"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, GetSafeErrorMessage(tc.err))
		})
	}
}
