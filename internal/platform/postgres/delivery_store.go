package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/store"
)

// PostgresDeliveryStore implements the store.DeliveryStore interface
// using a PostgreSQL database as the storage backend.
type PostgresDeliveryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDeliveryStore creates a new PostgreSQL implementation of the
// DeliveryStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresDeliveryStore(db store.DBTX, logger *slog.Logger) *PostgresDeliveryStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDeliveryStore{
		db:     db,
		logger: logger.With(slog.String("component", "delivery_store")),
	}
}

// Ensure PostgresDeliveryStore implements store.DeliveryStore interface
var _ store.DeliveryStore = (*PostgresDeliveryStore)(nil)

const deliveryColumns = `id, project_id, connector_type, idempotency_key, payload_hash,
		status, attempt_count, max_attempts, last_status_code, last_error,
		next_attempt_at, dead_letter_reason, delivered_at, created_at, updated_at`

// EnqueueDelivery implements store.DeliveryStore.EnqueueDelivery.
// Dedupe runs before insert; a race between two identical enqueues falls
// through to the unique indexes and re-resolves to the winner's row.
func (s *PostgresDeliveryStore) EnqueueDelivery(
	ctx context.Context,
	delivery *domain.ConnectorDelivery,
) (*domain.ConnectorDelivery, bool, error) {
	if err := delivery.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	existing, err := s.findDuplicate(ctx, delivery)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	query := `
		INSERT INTO deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.ProjectID,
		delivery.ConnectorType,
		delivery.IdempotencyKey,
		delivery.PayloadHash,
		delivery.Status,
		delivery.AttemptCount,
		delivery.MaxAttempts,
		delivery.LastStatusCode,
		delivery.LastError,
		delivery.NextAttemptAt,
		delivery.DeadLetterReason,
		delivery.DeliveredAt,
		delivery.CreatedAt,
		delivery.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			existing, findErr := s.findDuplicate(ctx, delivery)
			if findErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		s.logger.Error("failed to enqueue delivery",
			"delivery_id", delivery.ID,
			"error", err)
		return nil, false, MapError(err)
	}

	return delivery, false, nil
}

// findDuplicate looks for an existing delivery with the same idempotency key
// or the same payload hash within the project/connector scope.
func (s *PostgresDeliveryStore) findDuplicate(
	ctx context.Context,
	delivery *domain.ConnectorDelivery,
) (*domain.ConnectorDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE project_id = $1
		  AND connector_type = $2
		  AND (($3 <> '' AND idempotency_key = $3) OR payload_hash = $4)
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query,
		delivery.ProjectID,
		delivery.ConnectorType,
		delivery.IdempotencyKey,
		delivery.PayloadHash,
	)

	existing, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, MapError(err)
	}
	return existing, nil
}

// GetDelivery implements store.DeliveryStore.GetDelivery.
func (s *PostgresDeliveryStore) GetDelivery(ctx context.Context, id uuid.UUID) (*domain.ConnectorDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE id = $1
	`
	delivery, err := scanDelivery(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return delivery, nil
}

// ListDeliveries implements store.DeliveryStore.ListDeliveries.
func (s *PostgresDeliveryStore) ListDeliveries(
	ctx context.Context,
	projectID uuid.UUID,
	connectorType string,
	limit int,
) ([]*domain.ConnectorDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE project_id = $1
		  AND ($2 = '' OR connector_type = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, connectorType, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return scanDeliveries(rows)
}

// ListDueDeliveries implements store.DeliveryStore.ListDueDeliveries.
func (s *PostgresDeliveryStore) ListDueDeliveries(
	ctx context.Context,
	projectID uuid.UUID,
	connectorType string,
	now time.Time,
	limit int,
) ([]*domain.ConnectorDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE project_id = $1
		  AND ($2 = '' OR connector_type = $2)
		  AND status IN ('queued', 'retrying')
		  AND next_attempt_at <= $3
		ORDER BY next_attempt_at ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, connectorType, now, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return scanDeliveries(rows)
}

// ListDeadLettered implements store.DeliveryStore.ListDeadLettered.
func (s *PostgresDeliveryStore) ListDeadLettered(
	ctx context.Context,
	projectID uuid.UUID,
	connectorType string,
	cutoff time.Time,
	limit int,
) ([]*domain.ConnectorDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE project_id = $1
		  AND connector_type = $2
		  AND status = 'dead_lettered'
		  AND updated_at <= $3
		ORDER BY updated_at ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, connectorType, cutoff, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return scanDeliveries(rows)
}

// ListAttempts implements store.DeliveryStore.ListAttempts.
func (s *PostgresDeliveryStore) ListAttempts(
	ctx context.Context,
	deliveryID uuid.UUID,
) ([]*domain.ConnectorDeliveryAttempt, error) {
	query := `
		SELECT id, delivery_id, attempted_at, status_code, error, latency_ms
		FROM delivery_attempts
		WHERE delivery_id = $1
		ORDER BY attempted_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, deliveryID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []*domain.ConnectorDeliveryAttempt
	for rows.Next() {
		var a domain.ConnectorDeliveryAttempt
		var statusCode sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.AttemptedAt, &statusCode, &errMsg, &a.LatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		if statusCode.Valid {
			code := int(statusCode.Int64)
			a.StatusCode = &code
		}
		a.Error = errMsg.String
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt rows: %w", err)
	}
	return attempts, nil
}

// RecordAttempt implements store.DeliveryStore.RecordAttempt.
// The counter bump and the attempt insert commit together: when the store
// holds a root connection the pair runs inside its own transaction, and when
// the store was obtained through WithTx the statements join the caller's.
func (s *PostgresDeliveryStore) RecordAttempt(
	ctx context.Context,
	deliveryID uuid.UUID,
	outcome domain.AttemptOutcome,
) (*domain.ConnectorDeliveryAttempt, error) {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return s.recordAttempt(ctx, deliveryID, outcome)
	}

	var attempt *domain.ConnectorDeliveryAttempt
	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		txStore := &PostgresDeliveryStore{db: tx, logger: s.logger}
		var txErr error
		attempt, txErr = txStore.recordAttempt(ctx, deliveryID, outcome)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// recordAttempt runs the guarded counter bump and the attempt insert against
// whatever connection the store holds. The bump serializes concurrent
// attempts against the same delivery: whichever statement runs second sees
// the incremented count and the max_attempts guard rejects anything past the
// budget.
func (s *PostgresDeliveryStore) recordAttempt(
	ctx context.Context,
	deliveryID uuid.UUID,
	outcome domain.AttemptOutcome,
) (*domain.ConnectorDeliveryAttempt, error) {
	attemptedAt := outcome.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}

	bump := `
		UPDATE deliveries
		SET attempt_count = attempt_count + 1,
		    last_status_code = $2,
		    last_error = $3,
		    updated_at = $4
		WHERE id = $1 AND attempt_count < max_attempts
	`
	result, err := s.db.ExecContext(ctx, bump,
		deliveryID,
		outcome.StatusCode,
		outcome.Error,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.GetDelivery(ctx, deliveryID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrDeliveryAttemptsExceeded)
	}

	attempt := &domain.ConnectorDeliveryAttempt{
		ID:          uuid.New(),
		DeliveryID:  deliveryID,
		AttemptedAt: attemptedAt,
		StatusCode:  outcome.StatusCode,
		Error:       outcome.Error,
		LatencyMs:   outcome.LatencyMs,
	}

	insert := `
		INSERT INTO delivery_attempts (id, delivery_id, attempted_at, status_code, error, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, insert,
		attempt.ID,
		attempt.DeliveryID,
		attempt.AttemptedAt,
		attempt.StatusCode,
		attempt.Error,
		attempt.LatencyMs,
	)
	if err != nil {
		s.logger.Error("failed to record attempt",
			"delivery_id", deliveryID,
			"error", err)
		return nil, MapError(err)
	}

	return attempt, nil
}

// TransitionDelivery implements store.DeliveryStore.TransitionDelivery.
// The write is a compare-and-swap on the status read: a racing transition
// makes the guarded UPDATE match zero rows and surfaces ErrConcurrency.
func (s *PostgresDeliveryStore) TransitionDelivery(
	ctx context.Context,
	deliveryID uuid.UUID,
	newStatus domain.DeliveryStatus,
	fields store.TransitionFields,
) (*domain.ConnectorDelivery, error) {
	current, err := s.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if !current.CanTransitionTo(newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, newStatus)
	}

	var nextAttemptAt, deliveredAt *time.Time
	deadLetterReason := ""
	resetAttempts := false
	switch newStatus {
	case domain.DeliveryStatusDelivered:
		deliveredAt = fields.DeliveredAt
		if deliveredAt == nil {
			// delivered_at is set iff delivered; never write NULL here
			t := time.Now().UTC()
			deliveredAt = &t
		}
	case domain.DeliveryStatusDeadLettered:
		deadLetterReason = fields.DeadLetterReason
	default:
		nextAttemptAt = fields.NextAttemptAt
		resetAttempts = fields.ResetAttempts
	}

	lastStatusCode := current.LastStatusCode
	if fields.LastStatusCode != nil {
		lastStatusCode = fields.LastStatusCode
	}
	lastError := current.LastError
	if fields.LastError != "" {
		lastError = fields.LastError
	}

	query := `
		UPDATE deliveries
		SET status = $3,
		    next_attempt_at = $4,
		    delivered_at = $5,
		    dead_letter_reason = $6,
		    last_status_code = $7,
		    last_error = $8,
		    updated_at = $9,
		    attempt_count = CASE WHEN $10 THEN 0 ELSE attempt_count END
		WHERE id = $1 AND status = $2
		RETURNING ` + deliveryColumns + `
	`
	row := s.db.QueryRowContext(ctx, query,
		deliveryID,
		current.Status,
		newStatus,
		nextAttemptAt,
		deliveredAt,
		deadLetterReason,
		lastStatusCode,
		lastError,
		time.Now().UTC(),
		resetAttempts,
	)

	updated, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: delivery status changed concurrently", store.ErrConcurrency)
	}
	if err != nil {
		return nil, MapError(err)
	}
	return updated, nil
}

// QueueSummaries implements store.DeliveryStore.QueueSummaries.
func (s *PostgresDeliveryStore) QueueSummaries(
	ctx context.Context,
	projectID uuid.UUID,
	now time.Time,
) ([]domain.ConnectorQueueSummary, error) {
	query := `
		SELECT connector_type,
		       COUNT(*) FILTER (WHERE status = 'queued') AS queued,
		       COUNT(*) FILTER (WHERE status = 'retrying') AS retrying,
		       COUNT(*) FILTER (WHERE status IN ('queued', 'retrying') AND next_attempt_at <= $2) AS due_now,
		       COUNT(*) FILTER (WHERE status = 'dead_lettered') AS dead_lettered,
		       COUNT(*) FILTER (WHERE status = 'delivered') AS delivered,
		       COUNT(*) AS total
		FROM deliveries
		WHERE project_id = $1
		GROUP BY connector_type
		ORDER BY connector_type ASC
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, now)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []domain.ConnectorQueueSummary
	for rows.Next() {
		var summary domain.ConnectorQueueSummary
		var total int
		if err := rows.Scan(
			&summary.ConnectorType,
			&summary.Queued,
			&summary.Retrying,
			&summary.DueNow,
			&summary.DeadLettered,
			&summary.Delivered,
			&total,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		if total > 0 {
			summary.DeliverySuccessRate = float64(summary.Delivered) / float64(total)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}
	return summaries, nil
}

// WithTx implements store.DeliveryStore.WithTx.
func (s *PostgresDeliveryStore) WithTx(tx *sql.Tx) store.DeliveryStore {
	return &PostgresDeliveryStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*domain.ConnectorDelivery, error) {
	var d domain.ConnectorDelivery
	var lastStatusCode sql.NullInt64
	var lastError, deadLetterReason sql.NullString
	var nextAttemptAt, deliveredAt sql.NullTime

	err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.ConnectorType,
		&d.IdempotencyKey,
		&d.PayloadHash,
		&d.Status,
		&d.AttemptCount,
		&d.MaxAttempts,
		&lastStatusCode,
		&lastError,
		&nextAttemptAt,
		&deadLetterReason,
		&deliveredAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastStatusCode.Valid {
		code := int(lastStatusCode.Int64)
		d.LastStatusCode = &code
	}
	d.LastError = lastError.String
	d.DeadLetterReason = deadLetterReason.String
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		d.NextAttemptAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		d.DeliveredAt = &t
	}
	return &d, nil
}

func scanDeliveries(rows *sql.Rows) ([]*domain.ConnectorDelivery, error) {
	var deliveries []*domain.ConnectorDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery row: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery rows: %w", err)
	}
	return deliveries, nil
}
