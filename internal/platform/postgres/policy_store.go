package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/store"
)

// PostgresPolicyStore implements the store.PolicyStore interface
// using a PostgreSQL database as the storage backend. Connector overrides,
// patches, and approvals are stored as JSONB.
type PostgresPolicyStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresPolicyStore creates a new PostgreSQL implementation of the
// PolicyStore interface.
func NewPostgresPolicyStore(db store.DBTX, logger *slog.Logger) *PostgresPolicyStore {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresPolicyStore{
		db:     db,
		logger: logger.With(slog.String("component", "policy_store")),
	}
}

// Ensure PostgresPolicyStore implements store.PolicyStore interface
var _ store.PolicyStore = (*PostgresPolicyStore)(nil)

// GetPolicy implements store.PolicyStore.GetPolicy.
func (s *PostgresPolicyStore) GetPolicy(ctx context.Context, projectID uuid.UUID) (*domain.BackpressurePolicy, error) {
	query := `
		SELECT project_id, is_enabled, max_retrying, max_due_now, min_limit,
		       connector_overrides, created_at, updated_at
		FROM backpressure_policies
		WHERE project_id = $1
	`
	var p domain.BackpressurePolicy
	var overrides []byte
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&p.ProjectID,
		&p.IsEnabled,
		&p.MaxRetrying,
		&p.MaxDueNow,
		&p.MinLimit,
		&overrides,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrPolicyNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}

	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &p.ConnectorOverrides); err != nil {
			return nil, fmt.Errorf("failed to decode connector overrides: %w", err)
		}
	}
	return &p, nil
}

// EnsurePolicy implements store.PolicyStore.EnsurePolicy.
// The insert is idempotent; a racing creator's row wins and is returned.
func (s *PostgresPolicyStore) EnsurePolicy(
	ctx context.Context,
	projectID uuid.UUID,
	defaults domain.PolicyDefaults,
) (*domain.BackpressurePolicy, error) {
	policy := domain.NewBackpressurePolicy(projectID, defaults)

	query := `
		INSERT INTO backpressure_policies
			(project_id, is_enabled, max_retrying, max_due_now, min_limit, connector_overrides, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '{}'::jsonb, $6, $7)
		ON CONFLICT (project_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		policy.ProjectID,
		policy.IsEnabled,
		policy.MaxRetrying,
		policy.MaxDueNow,
		policy.MinLimit,
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	if err != nil {
		return nil, MapError(err)
	}

	return s.GetPolicy(ctx, projectID)
}

// SavePolicy implements store.PolicyStore.SavePolicy.
func (s *PostgresPolicyStore) SavePolicy(ctx context.Context, policy *domain.BackpressurePolicy) error {
	overrides, err := json.Marshal(policy.ConnectorOverrides)
	if err != nil {
		return fmt.Errorf("failed to encode connector overrides: %w", err)
	}
	if policy.ConnectorOverrides == nil {
		overrides = []byte("{}")
	}

	query := `
		INSERT INTO backpressure_policies
			(project_id, is_enabled, max_retrying, max_due_now, min_limit, connector_overrides, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id) DO UPDATE
		SET is_enabled = EXCLUDED.is_enabled,
		    max_retrying = EXCLUDED.max_retrying,
		    max_due_now = EXCLUDED.max_due_now,
		    min_limit = EXCLUDED.min_limit,
		    connector_overrides = EXCLUDED.connector_overrides,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		policy.ProjectID,
		policy.IsEnabled,
		policy.MaxRetrying,
		policy.MaxDueNow,
		policy.MinLimit,
		overrides,
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("failed to save policy",
			"project_id", policy.ProjectID,
			"error", err)
		return MapError(err)
	}
	return nil
}

// GetDraft implements store.PolicyStore.GetDraft.
func (s *PostgresPolicyStore) GetDraft(ctx context.Context, projectID uuid.UUID) (*domain.BackpressurePolicyDraft, error) {
	query := `
		SELECT project_id, patch, required_approvals, approvals, activate_at, created_at, updated_at
		FROM backpressure_policy_drafts
		WHERE project_id = $1
	`
	var d domain.BackpressurePolicyDraft
	var patch, approvals []byte
	var activateAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&d.ProjectID,
		&patch,
		&d.RequiredApprovals,
		&approvals,
		&activateAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDraftNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}

	if err := json.Unmarshal(patch, &d.Patch); err != nil {
		return nil, fmt.Errorf("failed to decode draft patch: %w", err)
	}
	d.Approvals = []domain.PolicyApproval{}
	if len(approvals) > 0 {
		if err := json.Unmarshal(approvals, &d.Approvals); err != nil {
			return nil, fmt.Errorf("failed to decode draft approvals: %w", err)
		}
	}
	if activateAt.Valid {
		t := activateAt.Time
		d.ActivateAt = &t
	}
	return &d, nil
}

// SaveDraft implements store.PolicyStore.SaveDraft.
// Updates compare-and-swap on the UpdatedAt the caller read; a lost race
// returns ErrConcurrency. On success the draft's UpdatedAt is refreshed.
func (s *PostgresPolicyStore) SaveDraft(ctx context.Context, draft *domain.BackpressurePolicyDraft) error {
	patch, err := json.Marshal(draft.Patch)
	if err != nil {
		return fmt.Errorf("failed to encode draft patch: %w", err)
	}
	approvals, err := json.Marshal(draft.Approvals)
	if err != nil {
		return fmt.Errorf("failed to encode draft approvals: %w", err)
	}

	now := time.Now().UTC()

	update := `
		UPDATE backpressure_policy_drafts
		SET patch = $2,
		    required_approvals = $3,
		    approvals = $4,
		    activate_at = $5,
		    updated_at = $6
		WHERE project_id = $1 AND updated_at = $7
	`
	result, err := s.db.ExecContext(ctx, update,
		draft.ProjectID,
		patch,
		draft.RequiredApprovals,
		approvals,
		draft.ActivateAt,
		now,
		draft.UpdatedAt,
	)
	if err != nil {
		return MapError(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		draft.UpdatedAt = now
		return nil
	}

	insert := `
		INSERT INTO backpressure_policy_drafts
			(project_id, patch, required_approvals, approvals, activate_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, insert,
		draft.ProjectID,
		patch,
		draft.RequiredApprovals,
		approvals,
		draft.ActivateAt,
		draft.CreatedAt,
		now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: draft updated concurrently", store.ErrConcurrency)
		}
		s.logger.Error("failed to save draft",
			"project_id", draft.ProjectID,
			"error", err)
		return MapError(err)
	}

	draft.UpdatedAt = now
	return nil
}

// DeleteDraft implements store.PolicyStore.DeleteDraft.
func (s *PostgresPolicyStore) DeleteDraft(ctx context.Context, projectID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM backpressure_policy_drafts WHERE project_id = $1`, projectID)
	if err != nil {
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrDraftNotFound
	}
	return nil
}

// GetGuardianPolicy implements store.PolicyStore.GetGuardianPolicy.
func (s *PostgresPolicyStore) GetGuardianPolicy(ctx context.Context, projectID uuid.UUID) (*domain.GuardianPolicy, error) {
	query := `
		SELECT project_id, is_enabled, lookback_hours, risk_threshold,
		       max_actions_per_project, action_limit, cooldown_minutes,
		       min_dead_letter_minutes, allow_process_queue, allow_redrive,
		       created_at, updated_at
		FROM guardian_policies
		WHERE project_id = $1
	`
	var p domain.GuardianPolicy
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&p.ProjectID,
		&p.IsEnabled,
		&p.LookbackHours,
		&p.RiskThreshold,
		&p.MaxActionsPerProject,
		&p.ActionLimit,
		&p.CooldownMinutes,
		&p.MinDeadLetterMinutes,
		&p.AllowProcessQueue,
		&p.AllowRedrive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrGuardianPolicyNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return &p, nil
}

// SaveGuardianPolicy implements store.PolicyStore.SaveGuardianPolicy.
func (s *PostgresPolicyStore) SaveGuardianPolicy(ctx context.Context, policy *domain.GuardianPolicy) error {
	query := `
		INSERT INTO guardian_policies
			(project_id, is_enabled, lookback_hours, risk_threshold,
			 max_actions_per_project, action_limit, cooldown_minutes,
			 min_dead_letter_minutes, allow_process_queue, allow_redrive,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (project_id) DO UPDATE
		SET is_enabled = EXCLUDED.is_enabled,
		    lookback_hours = EXCLUDED.lookback_hours,
		    risk_threshold = EXCLUDED.risk_threshold,
		    max_actions_per_project = EXCLUDED.max_actions_per_project,
		    action_limit = EXCLUDED.action_limit,
		    cooldown_minutes = EXCLUDED.cooldown_minutes,
		    min_dead_letter_minutes = EXCLUDED.min_dead_letter_minutes,
		    allow_process_queue = EXCLUDED.allow_process_queue,
		    allow_redrive = EXCLUDED.allow_redrive,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		policy.ProjectID,
		policy.IsEnabled,
		policy.LookbackHours,
		policy.RiskThreshold,
		policy.MaxActionsPerProject,
		policy.ActionLimit,
		policy.CooldownMinutes,
		policy.MinDeadLetterMinutes,
		policy.AllowProcessQueue,
		policy.AllowRedrive,
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("failed to save guardian policy",
			"project_id", policy.ProjectID,
			"error", err)
		return MapError(err)
	}
	return nil
}

// ListProjects implements store.PolicyStore.ListProjects.
func (s *PostgresPolicyStore) ListProjects(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id FROM backpressure_policies ORDER BY project_id ASC`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var projects []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return projects, nil
}

// WithTx implements store.PolicyStore.WithTx.
func (s *PostgresPolicyStore) WithTx(tx *sql.Tx) store.PolicyStore {
	return &PostgresPolicyStore{
		db:     tx,
		logger: s.logger,
	}
}
