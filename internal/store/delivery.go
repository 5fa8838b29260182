package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
)

// TransitionFields carries the status-dependent columns set alongside a
// delivery status transition. Only fields relevant to the target status are
// consulted; the rest are cleared so the delivery invariants hold after the write.
type TransitionFields struct {
	NextAttemptAt    *time.Time
	DeliveredAt      *time.Time
	DeadLetterReason string
	LastStatusCode   *int
	LastError        string

	// ResetAttempts zeroes attempt_count so a redriven delivery gets a
	// fresh retry budget. Without it a dead-lettered delivery moved back to
	// queued would sit at attempt_count == max_attempts and every further
	// attempt would be rejected. Only honored on non-terminal targets.
	ResetAttempts bool
}

// DeliveryStore defines the interface for durable delivery persistence.
// The control plane only ever reads and writes deliveries through it.
// Version: 1.0
type DeliveryStore interface {
	// EnqueueDelivery persists a new delivery. If a delivery with the same
	// (project_id, connector_type, idempotency_key) or the same payload hash
	// already exists, the existing delivery is returned with duplicate=true
	// and no new row is created.
	EnqueueDelivery(ctx context.Context, delivery *domain.ConnectorDelivery) (*domain.ConnectorDelivery, bool, error)

	// GetDelivery retrieves a delivery by ID.
	// Returns ErrDeliveryNotFound if it does not exist.
	GetDelivery(ctx context.Context, id uuid.UUID) (*domain.ConnectorDelivery, error)

	// ListDeliveries returns up to limit deliveries for a project, newest
	// first. An empty connectorType matches all connectors.
	ListDeliveries(ctx context.Context, projectID uuid.UUID, connectorType string, limit int) ([]*domain.ConnectorDelivery, error)

	// ListDueDeliveries returns up to limit queued/retrying deliveries whose
	// next_attempt_at is at or before now, oldest due first.
	ListDueDeliveries(ctx context.Context, projectID uuid.UUID, connectorType string, now time.Time, limit int) ([]*domain.ConnectorDelivery, error)

	// ListDeadLettered returns dead-lettered deliveries for a connector that
	// have been quarantined since before the cutoff.
	ListDeadLettered(ctx context.Context, projectID uuid.UUID, connectorType string, cutoff time.Time, limit int) ([]*domain.ConnectorDelivery, error)

	// ListAttempts returns all attempts for a delivery, oldest first.
	ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]*domain.ConnectorDeliveryAttempt, error)

	// RecordAttempt appends an immutable attempt row and bumps the delivery's
	// attempt_count and last_status_code/last_error. Two attempts against the
	// same delivery serialize; attempt_count never exceeds max_attempts.
	// Returns ErrDeliveryNotFound if the delivery does not exist.
	RecordAttempt(ctx context.Context, deliveryID uuid.UUID, outcome domain.AttemptOutcome) (*domain.ConnectorDeliveryAttempt, error)

	// TransitionDelivery moves a delivery to newStatus, setting the
	// status-dependent fields. Rejects transitions the state machine does
	// not permit with domain.ErrInvalidTransition.
	TransitionDelivery(ctx context.Context, deliveryID uuid.UUID, newStatus domain.DeliveryStatus, fields TransitionFields) (*domain.ConnectorDelivery, error)

	// QueueSummaries returns a point-in-time per-connector pressure snapshot
	// for a project, computed against now for due-now counts.
	QueueSummaries(ctx context.Context, projectID uuid.UUID, now time.Time) ([]domain.ConnectorQueueSummary, error)

	// WithTx returns a DeliveryStore bound to the provided transaction so
	// that an attempt record and its status transition commit atomically.
	WithTx(tx *sql.Tx) DeliveryStore
}
