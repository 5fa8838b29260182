// Package backpressure maintains the live drain policy for each project and
// the draft/approval/activation workflow that is the only way to change it.
package backpressure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/events"
	"github.com/docuflux/courier-api/internal/store"
)

// Activation gate reasons.
const (
	ReasonActivationTimePending = "activation_time_pending"
	ReasonApprovalsPending      = "approvals_pending"
)

// ErrDraftNotReady is returned by Apply when the draft has not cleared its
// approval count or activation time gate.
var ErrDraftNotReady = errors.New("draft is not ready to apply")

// concurrencyRetries bounds how often a lost draft update is retried against
// fresh state before the conflict is surfaced.
const concurrencyRetries = 3

// ActivationStatus reports whether a draft may be applied and why not.
type ActivationStatus struct {
	Ready              bool   `json:"ready"`
	Reason             string `json:"reason,omitempty"`
	ActivationReady    bool   `json:"activation_ready"`
	ApprovalCount      int    `json:"approval_count"`
	ApprovalsRemaining int    `json:"approvals_remaining"`
}

// DraftUpdate is the caller's sparse input to UpsertDraft. Nil fields leave
// the existing draft value untouched.
type DraftUpdate struct {
	Patch             domain.BackpressurePolicyPatch
	RequiredApprovals *int
	ActivateAt        *time.Time
}

// Lifecycle owns the draft workflow: no_draft → drafted → amended* →
// (approved ∧ activation_ready) → applied.
type Lifecycle struct {
	policies store.PolicyStore
	audit    store.AuditLog
	defaults domain.PolicyDefaults
	logger   *slog.Logger
}

// NewLifecycle creates a Lifecycle. Policy defaults are threaded in
// explicitly rather than read from package globals.
func NewLifecycle(
	policies store.PolicyStore,
	audit store.AuditLog,
	defaults domain.PolicyDefaults,
	logger *slog.Logger,
) *Lifecycle {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Lifecycle")
	}

	return &Lifecycle{
		policies: policies,
		audit:    audit,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "backpressure_lifecycle")),
	}
}

// Policy returns the project's live policy, creating it from defaults when
// the project has none yet.
func (l *Lifecycle) Policy(ctx context.Context, projectID uuid.UUID) (*domain.BackpressurePolicy, error) {
	return l.policies.EnsurePolicy(ctx, projectID, l.defaults)
}

// Draft returns the project's pending draft.
// Returns store.ErrDraftNotFound if none exists.
func (l *Lifecycle) Draft(ctx context.Context, projectID uuid.UUID) (*domain.BackpressurePolicyDraft, error) {
	return l.policies.GetDraft(ctx, projectID)
}

// UpsertDraft creates the project's draft or merges a sparse amendment into
// it. Out-of-range fields are rejected, never clamped silently.
func (l *Lifecycle) UpsertDraft(
	ctx context.Context,
	projectID uuid.UUID,
	actor string,
	update DraftUpdate,
) (*domain.BackpressurePolicyDraft, error) {
	if err := update.Patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if update.RequiredApprovals != nil && *update.RequiredApprovals < 1 {
		return nil, fmt.Errorf("%w: required_approvals %d",
			domain.ErrPolicyFieldOutOfRange, *update.RequiredApprovals)
	}

	var draft *domain.BackpressurePolicyDraft
	err := l.retryOnConflict(ctx, func() error {
		existing, err := l.policies.GetDraft(ctx, projectID)
		switch {
		case errors.Is(err, store.ErrDraftNotFound):
			if update.Patch.IsZero() {
				return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyPatch)
			}
			now := time.Now().UTC()
			draft = &domain.BackpressurePolicyDraft{
				ProjectID:         projectID,
				Patch:             update.Patch,
				RequiredApprovals: 1,
				Approvals:         []domain.PolicyApproval{},
				CreatedAt:         now,
				UpdatedAt:         now,
			}
		case err != nil:
			return err
		default:
			existing.Patch = existing.Patch.Merge(update.Patch)
			draft = existing
		}

		if update.RequiredApprovals != nil {
			draft.RequiredApprovals = *update.RequiredApprovals
		}
		if update.ActivateAt != nil {
			activateAt := update.ActivateAt.UTC()
			draft.ActivateAt = &activateAt
		}

		return l.policies.SaveDraft(ctx, draft)
	})
	if err != nil {
		return nil, err
	}

	l.appendAudit(ctx, projectID, events.EventTypeDraftUpserted, actor,
		events.DraftUpsertedPayload{
			RequiredApprovals: draft.RequiredApprovals,
			ActivateAt:        draft.ActivateAt,
		})

	return draft, nil
}

// RecordApproval appends {actor, approved_at=now} to the draft, once per
// actor. A repeat approval from the same actor is a no-op, not an error.
func (l *Lifecycle) RecordApproval(
	ctx context.Context,
	projectID uuid.UUID,
	actor string,
) (*domain.BackpressurePolicyDraft, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrActorEmpty)
	}

	var draft *domain.BackpressurePolicyDraft
	err := l.retryOnConflict(ctx, func() error {
		existing, err := l.policies.GetDraft(ctx, projectID)
		if err != nil {
			return err
		}
		draft = existing

		if draft.HasApprovalFrom(actor) {
			return nil
		}

		draft.Approvals = append(draft.Approvals, domain.PolicyApproval{
			Actor:      actor,
			ApprovedAt: time.Now().UTC(),
		})

		return l.policies.SaveDraft(ctx, draft)
	})
	if err != nil {
		return nil, err
	}

	l.appendAudit(ctx, projectID, events.EventTypeDraftApproved, actor,
		events.DraftApprovedPayload{
			ApprovalCount:      len(draft.Approvals),
			ApprovalsRemaining: draft.ApprovalsRemaining(),
		})

	return draft, nil
}

// EvaluateActivation checks the time gate first: a committed rollout
// schedule takes priority, so a future activate_at blocks the draft without
// consulting approvals at all. Otherwise the approval count decides.
func EvaluateActivation(draft *domain.BackpressurePolicyDraft, now time.Time) ActivationStatus {
	if draft.ActivateAt != nil && now.Before(*draft.ActivateAt) {
		return ActivationStatus{
			Ready:           false,
			Reason:          ReasonActivationTimePending,
			ActivationReady: false,
		}
	}

	count := len(draft.Approvals)
	remaining := draft.ApprovalsRemaining()

	status := ActivationStatus{
		ActivationReady:    true,
		ApprovalCount:      count,
		ApprovalsRemaining: remaining,
	}

	if remaining > 0 {
		status.Reason = ReasonApprovalsPending
		return status
	}

	status.Ready = true
	return status
}

// Apply merges the draft's present fields onto the live policy (sparse, never
// a wholesale replace) and clears the draft. Fails with ErrDraftNotFound when
// no draft exists and never mutates the live policy in that case.
func (l *Lifecycle) Apply(
	ctx context.Context,
	projectID uuid.UUID,
	actor string,
) (*domain.BackpressurePolicy, error) {
	var policy *domain.BackpressurePolicy
	err := l.retryOnConflict(ctx, func() error {
		draft, err := l.policies.GetDraft(ctx, projectID)
		if err != nil {
			return err
		}

		if status := EvaluateActivation(draft, time.Now().UTC()); !status.Ready {
			return fmt.Errorf("%w: %s", ErrDraftNotReady, status.Reason)
		}

		live, err := l.policies.EnsurePolicy(ctx, projectID, l.defaults)
		if err != nil {
			return err
		}

		draft.Patch.ApplyTo(live)
		if err := l.policies.SavePolicy(ctx, live); err != nil {
			return err
		}
		if err := l.policies.DeleteDraft(ctx, projectID); err != nil {
			return err
		}

		policy = live
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.appendAudit(ctx, projectID, events.EventTypePolicyApplied, actor,
		events.PolicyAppliedPayload{
			MaxRetrying: policy.MaxRetrying,
			MaxDueNow:   policy.MaxDueNow,
			MinLimit:    policy.MinLimit,
		})

	return policy, nil
}

// UpsertGuardianPolicy replaces the project's guardian policy. Unlike the
// backpressure policy it needs no draft workflow.
func (l *Lifecycle) UpsertGuardianPolicy(
	ctx context.Context,
	policy *domain.GuardianPolicy,
	actor string,
) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	policy.UpdatedAt = time.Now().UTC()

	if err := l.policies.SaveGuardianPolicy(ctx, policy); err != nil {
		return err
	}

	l.appendAudit(ctx, policy.ProjectID, events.EventTypeGuardianUpdated, actor,
		events.GuardianUpdatedPayload{
			IsEnabled:     policy.IsEnabled,
			RiskThreshold: policy.RiskThreshold,
		})

	return nil
}

// retryOnConflict runs fn, re-running it against fresh state a fixed number
// of times when a concurrent writer wins the race.
func (l *Lifecycle) retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= concurrencyRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, store.ErrConcurrency) {
			return err
		}
		l.logger.Debug("retrying draft mutation after concurrency conflict",
			slog.Int("attempt", attempt+1))
	}
	return err
}

func (l *Lifecycle) appendAudit(
	ctx context.Context,
	projectID uuid.UUID,
	eventType events.EventType,
	actor string,
	payload interface{},
) {
	event, err := events.NewAuditEvent(projectID, eventType, actor, "", payload)
	if err != nil {
		l.logger.Error("failed to build audit event",
			slog.String("event_type", string(eventType)),
			slog.String("error", err.Error()))
		return
	}
	if err := l.audit.AppendEvent(ctx, event); err != nil {
		l.logger.Error("failed to append audit event",
			slog.String("event_type", string(eventType)),
			slog.String("error", err.Error()))
	}
}
