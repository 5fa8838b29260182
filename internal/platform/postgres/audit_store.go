package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/events"
	"github.com/docuflux/courier-api/internal/store"
)

// PostgresAuditLog implements the store.AuditLog interface using a
// PostgreSQL database as the storage backend. Events are append-only;
// there is no update or delete path.
type PostgresAuditLog struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAuditLog creates a new PostgreSQL implementation of the
// AuditLog interface.
func NewPostgresAuditLog(db store.DBTX, logger *slog.Logger) *PostgresAuditLog {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAuditLog{
		db:     db,
		logger: logger.With(slog.String("component", "audit_log")),
	}
}

// Ensure PostgresAuditLog implements store.AuditLog interface
var _ store.AuditLog = (*PostgresAuditLog)(nil)

// AppendEvent implements store.AuditLog.AppendEvent.
func (l *PostgresAuditLog) AppendEvent(ctx context.Context, event *events.AuditEvent) error {
	payload := []byte(event.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	query := `
		INSERT INTO audit_events (id, project_id, type, actor, connector_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		event.ProjectID,
		event.Type,
		event.Actor,
		event.ConnectorType,
		payload,
		event.CreatedAt,
	)
	if err != nil {
		l.logger.Error("failed to append audit event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
		return MapError(err)
	}
	return nil
}

// ListEvents implements store.AuditLog.ListEvents.
func (l *PostgresAuditLog) ListEvents(ctx context.Context, projectID uuid.UUID, limit int) ([]*events.AuditEvent, error) {
	query := `
		SELECT id, project_id, type, actor, connector_type, payload, created_at
		FROM audit_events
		WHERE project_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var list []*events.AuditEvent
	for rows.Next() {
		var e events.AuditEvent
		var payload []byte
		if err := rows.Scan(
			&e.ID,
			&e.ProjectID,
			&e.Type,
			&e.Actor,
			&e.ConnectorType,
			&payload,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event row: %w", err)
		}
		e.Payload = payload
		list = append(list, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}
	return list, nil
}

// LastGuardianActions implements store.AuditLog.LastGuardianActions.
func (l *PostgresAuditLog) LastGuardianActions(ctx context.Context, projectID uuid.UUID) (map[string]time.Time, error) {
	query := `
		SELECT connector_type, MAX(created_at)
		FROM audit_events
		WHERE project_id = $1
		  AND type = $2
		  AND connector_type <> ''
		GROUP BY connector_type
	`
	rows, err := l.db.QueryContext(ctx, query, projectID, events.EventTypeGuardianAction)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	last := make(map[string]time.Time)
	for rows.Next() {
		var connectorType string
		var at time.Time
		if err := rows.Scan(&connectorType, &at); err != nil {
			return nil, fmt.Errorf("failed to scan guardian action row: %w", err)
		}
		last[connectorType] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating guardian action rows: %w", err)
	}
	return last, nil
}

// WithTx implements store.AuditLog.WithTx.
func (l *PostgresAuditLog) WithTx(tx *sql.Tx) store.AuditLog {
	return &PostgresAuditLog{
		db:     tx,
		logger: l.logger,
	}
}
