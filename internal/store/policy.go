package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
)

// PolicyStore defines the interface for backpressure and guardian policy
// persistence. Draft mutation is serialized per project: implementations
// must not lose an approval when two writers race.
// Version: 1.0
type PolicyStore interface {
	// GetPolicy returns the live backpressure policy for a project.
	// Returns ErrPolicyNotFound if none exists.
	GetPolicy(ctx context.Context, projectID uuid.UUID) (*domain.BackpressurePolicy, error)

	// EnsurePolicy returns the live policy, creating it from defaults when
	// the project has none yet.
	EnsurePolicy(ctx context.Context, projectID uuid.UUID, defaults domain.PolicyDefaults) (*domain.BackpressurePolicy, error)

	// SavePolicy persists the live policy. Only the draft apply step calls
	// this; the live policy is never edited directly.
	SavePolicy(ctx context.Context, policy *domain.BackpressurePolicy) error

	// GetDraft returns the project's pending draft.
	// Returns ErrDraftNotFound if none exists.
	GetDraft(ctx context.Context, projectID uuid.UUID) (*domain.BackpressurePolicyDraft, error)

	// SaveDraft inserts or updates the project's single draft. Updates
	// compare-and-swap on the draft's UpdatedAt as read; a lost race returns
	// ErrConcurrency so the caller can retry against fresh state. On success
	// the draft's UpdatedAt is refreshed in place.
	SaveDraft(ctx context.Context, draft *domain.BackpressurePolicyDraft) error

	// DeleteDraft removes the project's draft after a successful apply.
	// Returns ErrDraftNotFound if none exists.
	DeleteDraft(ctx context.Context, projectID uuid.UUID) error

	// GetGuardianPolicy returns the project's guardian policy.
	// Returns ErrGuardianPolicyNotFound if none exists.
	GetGuardianPolicy(ctx context.Context, projectID uuid.UUID) (*domain.GuardianPolicy, error)

	// SaveGuardianPolicy inserts or updates the guardian policy.
	SaveGuardianPolicy(ctx context.Context, policy *domain.GuardianPolicy) error

	// ListProjects returns the project IDs that currently have a live
	// policy, for the pump and guardian control loops to iterate.
	ListProjects(ctx context.Context) ([]uuid.UUID, error)

	// WithTx returns a PolicyStore bound to the provided transaction.
	WithTx(tx *sql.Tx) PolicyStore
}
