package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Delivery-specific validation errors
var (
	// ErrDeliveryIDEmpty is returned when a delivery ID is empty or nil.
	ErrDeliveryIDEmpty = errors.New("delivery ID cannot be empty")

	// ErrDeliveryProjectIDEmpty is returned when a delivery's project ID is empty or nil.
	ErrDeliveryProjectIDEmpty = errors.New("delivery project ID cannot be empty")

	// ErrDeliveryConnectorTypeEmpty is returned when a delivery's connector type is empty.
	ErrDeliveryConnectorTypeEmpty = errors.New("delivery connector type cannot be empty")

	// ErrDeliveryPayloadHashEmpty is returned when a delivery's payload hash is empty.
	ErrDeliveryPayloadHashEmpty = errors.New("delivery payload hash cannot be empty")

	// ErrDeliveryAttemptsExceeded is returned when attempt_count exceeds max_attempts.
	ErrDeliveryAttemptsExceeded = errors.New("delivery attempt count exceeds max attempts")
)

// DeliveryStatus represents the current state of a connector delivery.
type DeliveryStatus string

// Possible delivery status values.
const (
	DeliveryStatusQueued       DeliveryStatus = "queued"
	DeliveryStatusRetrying     DeliveryStatus = "retrying"
	DeliveryStatusDelivered    DeliveryStatus = "delivered"
	DeliveryStatusDeadLettered DeliveryStatus = "dead_lettered"
)

// IsValid reports whether the status is one of the known states.
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusQueued, DeliveryStatusRetrying,
		DeliveryStatusDelivered, DeliveryStatusDeadLettered:
		return true
	}
	return false
}

// IsTerminal reports whether the status is an end state. Terminal rows are
// never deleted; they form an append-only audit trail.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusDeadLettered
}

// ConnectorDelivery represents one outbound attempt-group targeting a
// connector for a given payload. Created on enqueue; mutated only by the
// pump and the guardian.
type ConnectorDelivery struct {
	ID               uuid.UUID      `json:"id"`
	ProjectID        uuid.UUID      `json:"project_id"`
	ConnectorType    string         `json:"connector_type"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
	PayloadHash      string         `json:"payload_hash"`
	Status           DeliveryStatus `json:"status"`
	AttemptCount     int            `json:"attempt_count"`
	MaxAttempts      int            `json:"max_attempts"`
	LastStatusCode   *int           `json:"last_status_code,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	NextAttemptAt    *time.Time     `json:"next_attempt_at,omitempty"`
	DeadLetterReason string         `json:"dead_letter_reason,omitempty"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewConnectorDelivery creates a new queued ConnectorDelivery ready for its
// first attempt. Returns an error if validation fails.
func NewConnectorDelivery(
	projectID uuid.UUID,
	connectorType, idempotencyKey, payloadHash string,
	maxAttempts int,
) (*ConnectorDelivery, error) {
	now := time.Now().UTC()
	d := &ConnectorDelivery{
		ID:             uuid.New(),
		ProjectID:      projectID,
		ConnectorType:  connectorType,
		IdempotencyKey: idempotencyKey,
		PayloadHash:    payloadHash,
		Status:         DeliveryStatusQueued,
		AttemptCount:   0,
		MaxAttempts:    maxAttempts,
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}

// Validate checks the delivery's fields and status-dependent invariants:
// delivered_at set iff delivered, dead_letter_reason set iff dead_lettered,
// next_attempt_at set iff queued or retrying, attempt_count <= max_attempts.
func (d *ConnectorDelivery) Validate() error {
	if d.ID == uuid.Nil {
		return ErrDeliveryIDEmpty
	}

	if d.ProjectID == uuid.Nil {
		return ErrDeliveryProjectIDEmpty
	}

	if d.ConnectorType == "" {
		return ErrDeliveryConnectorTypeEmpty
	}

	if d.PayloadHash == "" {
		return ErrDeliveryPayloadHashEmpty
	}

	if !d.Status.IsValid() {
		return ErrInvalidDeliveryStatus
	}

	if d.AttemptCount > d.MaxAttempts {
		return ErrDeliveryAttemptsExceeded
	}

	if (d.DeliveredAt != nil) != (d.Status == DeliveryStatusDelivered) {
		return ErrValidation
	}

	if (d.DeadLetterReason != "") != (d.Status == DeliveryStatusDeadLettered) {
		return ErrValidation
	}

	if (d.NextAttemptAt != nil) != !d.Status.IsTerminal() {
		return ErrValidation
	}

	return nil
}

// CanTransitionTo reports whether the state machine permits moving from the
// delivery's current status to the target status. Redrive of a dead-lettered
// delivery back to queued is a guardian-only transition but is legal here.
func (d *ConnectorDelivery) CanTransitionTo(target DeliveryStatus) bool {
	switch d.Status {
	case DeliveryStatusQueued:
		return target == DeliveryStatusRetrying ||
			target == DeliveryStatusDelivered ||
			target == DeliveryStatusDeadLettered
	case DeliveryStatusRetrying:
		return target == DeliveryStatusDelivered ||
			target == DeliveryStatusDeadLettered ||
			target == DeliveryStatusRetrying
	case DeliveryStatusDeadLettered:
		return target == DeliveryStatusQueued
	case DeliveryStatusDelivered:
		return false
	}
	return false
}

// Exhausted reports whether the delivery has used its full retry budget.
func (d *ConnectorDelivery) Exhausted() bool {
	return d.AttemptCount >= d.MaxAttempts
}

// ConnectorDeliveryAttempt records one dispatch against a delivery.
// Immutable once written; owned by exactly one delivery.
type ConnectorDeliveryAttempt struct {
	ID          uuid.UUID `json:"id"`
	DeliveryID  uuid.UUID `json:"delivery_id"`
	AttemptedAt time.Time `json:"attempted_at"`
	StatusCode  *int      `json:"status_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	LatencyMs   int64     `json:"latency_ms"`
}

// Succeeded reports whether the attempt got a 2xx response.
func (a *ConnectorDeliveryAttempt) Succeeded() bool {
	return a.StatusCode != nil && *a.StatusCode >= 200 && *a.StatusCode < 300
}

// AttemptOutcome carries the result of a single dispatch into the store.
type AttemptOutcome struct {
	StatusCode  *int
	Error       string
	LatencyMs   int64
	AttemptedAt time.Time
}

// Succeeded reports whether the outcome is a 2xx response.
func (o AttemptOutcome) Succeeded() bool {
	return o.StatusCode != nil && *o.StatusCode >= 200 && *o.StatusCode < 300
}
