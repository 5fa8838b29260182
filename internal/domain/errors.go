// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidDeliveryStatus is returned when a delivery status is not
	// one of the known states.
	ErrInvalidDeliveryStatus = errors.New("invalid delivery status")

	// ErrInvalidTransition is returned when a delivery status transition
	// is not permitted by the state machine.
	ErrInvalidTransition = errors.New("invalid delivery status transition")

	// ErrPolicyFieldOutOfRange is returned when a backpressure policy field
	// falls outside its allowed bounds. Out-of-range values are rejected,
	// never clamped.
	ErrPolicyFieldOutOfRange = errors.New("policy field out of range")

	// ErrEmptyPatch is returned when a draft upsert carries no fields.
	ErrEmptyPatch = errors.New("patch contains no fields")

	// ErrActorEmpty is returned when an approval is recorded without an actor.
	ErrActorEmpty = errors.New("actor cannot be empty")
)
