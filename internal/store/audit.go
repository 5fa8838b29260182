package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/events"
)

// AuditLog defines the interface for the append-only audit trail. Every
// policy mutation and guardian action lands here; the outcome feed and the
// guardian cooldown both read it back.
// Version: 1.0
type AuditLog interface {
	// AppendEvent persists an audit event. Events are immutable once written.
	AppendEvent(ctx context.Context, event *events.AuditEvent) error

	// ListEvents returns up to limit events for a project, newest first.
	ListEvents(ctx context.Context, projectID uuid.UUID, limit int) ([]*events.AuditEvent, error)

	// LastGuardianActions returns, per connector type, the time of the most
	// recent guardian_action event for a project. Connectors with no prior
	// action are absent from the map.
	LastGuardianActions(ctx context.Context, projectID uuid.UUID) (map[string]time.Time, error)

	// WithTx returns an AuditLog bound to the provided transaction.
	WithTx(tx *sql.Tx) AuditLog
}
