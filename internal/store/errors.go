package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrDeliveryNotFound, ErrDraftNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a second draft for the same project).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrConcurrency is returned when an update loses a race against a
	// concurrent writer. Callers retry a small fixed number of times against
	// fresh state before surfacing it.
	ErrConcurrency = errors.New("concurrent update conflict")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrDeliveryNotFound indicates that the requested delivery does not exist.
	ErrDeliveryNotFound = fmt.Errorf("%w: delivery", ErrNotFound)

	// ErrPolicyNotFound indicates that the project has no live backpressure policy.
	ErrPolicyNotFound = fmt.Errorf("%w: backpressure policy", ErrNotFound)

	// ErrDraftNotFound indicates that the project has no pending policy draft.
	ErrDraftNotFound = fmt.Errorf("%w: policy draft", ErrNotFound)

	// ErrGuardianPolicyNotFound indicates that the project has no guardian policy.
	ErrGuardianPolicyNotFound = fmt.Errorf("%w: guardian policy", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "delivery", "policy draft")
	Operation string // The operation that failed (e.g., "enqueue", "transition")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
