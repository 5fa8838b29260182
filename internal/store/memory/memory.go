// Package memory provides in-memory store implementations for tests and
// local development. A single mutex per store stands in for the row-level
// locking the postgres implementations get from the database.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/events"
	"github.com/docuflux/courier-api/internal/store"
)

// DeliveryStore is an in-memory store.DeliveryStore.
type DeliveryStore struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*domain.ConnectorDelivery
	attempts   map[uuid.UUID][]*domain.ConnectorDeliveryAttempt
	order      []uuid.UUID // insertion order, for deterministic listings
}

// NewDeliveryStore creates an empty in-memory delivery store.
func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{
		deliveries: make(map[uuid.UUID]*domain.ConnectorDelivery),
		attempts:   make(map[uuid.UUID][]*domain.ConnectorDeliveryAttempt),
	}
}

// EnqueueDelivery implements store.DeliveryStore.
func (s *DeliveryStore) EnqueueDelivery(
	ctx context.Context,
	delivery *domain.ConnectorDelivery,
) (*domain.ConnectorDelivery, bool, error) {
	if err := delivery.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		existing := s.deliveries[id]
		if existing.ProjectID != delivery.ProjectID || existing.ConnectorType != delivery.ConnectorType {
			continue
		}
		keyMatch := delivery.IdempotencyKey != "" && existing.IdempotencyKey == delivery.IdempotencyKey
		hashMatch := existing.PayloadHash == delivery.PayloadHash
		if keyMatch || hashMatch {
			copied := *existing
			return &copied, true, nil
		}
	}

	copied := *delivery
	s.deliveries[delivery.ID] = &copied
	s.order = append(s.order, delivery.ID)

	result := copied
	return &result, false, nil
}

// GetDelivery implements store.DeliveryStore.
func (s *DeliveryStore) GetDelivery(ctx context.Context, id uuid.UUID) (*domain.ConnectorDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok {
		return nil, store.ErrDeliveryNotFound
	}
	copied := *d
	return &copied, nil
}

// ListDeliveries implements store.DeliveryStore.
func (s *DeliveryStore) ListDeliveries(
	ctx context.Context,
	projectID uuid.UUID,
	connectorType string,
	limit int,
) ([]*domain.ConnectorDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*domain.ConnectorDelivery, 0)
	for _, id := range s.order {
		d := s.deliveries[id]
		if d.ProjectID != projectID {
			continue
		}
		if connectorType != "" && d.ConnectorType != connectorType {
			continue
		}
		copied := *d
		matched = append(matched, &copied)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ListDueDeliveries implements store.DeliveryStore.
func (s *DeliveryStore) ListDueDeliveries(
	ctx context.Context,
	projectID uuid.UUID,
	connectorType string,
	now time.Time,
	limit int,
) ([]*domain.ConnectorDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*domain.ConnectorDelivery, 0)
	for _, id := range s.order {
		d := s.deliveries[id]
		if d.ProjectID != projectID {
			continue
		}
		if connectorType != "" && d.ConnectorType != connectorType {
			continue
		}
		if d.Status != domain.DeliveryStatusQueued && d.Status != domain.DeliveryStatusRetrying {
			continue
		}
		if d.NextAttemptAt == nil || d.NextAttemptAt.After(now) {
			continue
		}
		copied := *d
		due = append(due, &copied)
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListDeadLettered implements store.DeliveryStore.
func (s *DeliveryStore) ListDeadLettered(
	ctx context.Context,
	projectID uuid.UUID,
	connectorType string,
	cutoff time.Time,
	limit int,
) ([]*domain.ConnectorDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*domain.ConnectorDelivery, 0)
	for _, id := range s.order {
		d := s.deliveries[id]
		if d.ProjectID != projectID || d.ConnectorType != connectorType {
			continue
		}
		if d.Status != domain.DeliveryStatusDeadLettered {
			continue
		}
		if d.UpdatedAt.After(cutoff) {
			continue
		}
		copied := *d
		matched = append(matched, &copied)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ListAttempts implements store.DeliveryStore.
func (s *DeliveryStore) ListAttempts(ctx context.Context, deliveryID uuid.UUID) ([]*domain.ConnectorDeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := s.attempts[deliveryID]
	copied := make([]*domain.ConnectorDeliveryAttempt, len(attempts))
	for i, a := range attempts {
		c := *a
		copied[i] = &c
	}
	return copied, nil
}

// RecordAttempt implements store.DeliveryStore.
func (s *DeliveryStore) RecordAttempt(
	ctx context.Context,
	deliveryID uuid.UUID,
	outcome domain.AttemptOutcome,
) (*domain.ConnectorDeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[deliveryID]
	if !ok {
		return nil, store.ErrDeliveryNotFound
	}
	if d.AttemptCount >= d.MaxAttempts {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrDeliveryAttemptsExceeded)
	}

	attemptedAt := outcome.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}

	attempt := &domain.ConnectorDeliveryAttempt{
		ID:          uuid.New(),
		DeliveryID:  deliveryID,
		AttemptedAt: attemptedAt,
		StatusCode:  outcome.StatusCode,
		Error:       outcome.Error,
		LatencyMs:   outcome.LatencyMs,
	}
	s.attempts[deliveryID] = append(s.attempts[deliveryID], attempt)

	d.AttemptCount++
	d.LastStatusCode = outcome.StatusCode
	d.LastError = outcome.Error
	d.UpdatedAt = time.Now().UTC()

	copied := *attempt
	return &copied, nil
}

// TransitionDelivery implements store.DeliveryStore.
func (s *DeliveryStore) TransitionDelivery(
	ctx context.Context,
	deliveryID uuid.UUID,
	newStatus domain.DeliveryStatus,
	fields store.TransitionFields,
) (*domain.ConnectorDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[deliveryID]
	if !ok {
		return nil, store.ErrDeliveryNotFound
	}
	if !d.CanTransitionTo(newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, d.Status, newStatus)
	}

	applyTransition(d, newStatus, fields)

	copied := *d
	return &copied, nil
}

// applyTransition sets the status-dependent fields and clears the rest so
// the delivery invariants hold after the write.
func applyTransition(d *domain.ConnectorDelivery, newStatus domain.DeliveryStatus, fields store.TransitionFields) {
	d.Status = newStatus
	d.UpdatedAt = time.Now().UTC()

	if fields.LastStatusCode != nil {
		d.LastStatusCode = fields.LastStatusCode
	}
	if fields.LastError != "" {
		d.LastError = fields.LastError
	}

	switch newStatus {
	case domain.DeliveryStatusDelivered:
		d.DeliveredAt = fields.DeliveredAt
		if d.DeliveredAt == nil {
			// delivered_at is set iff delivered; never leave it nil
			t := d.UpdatedAt
			d.DeliveredAt = &t
		}
		d.NextAttemptAt = nil
		d.DeadLetterReason = ""
	case domain.DeliveryStatusDeadLettered:
		d.DeadLetterReason = fields.DeadLetterReason
		d.NextAttemptAt = nil
		d.DeliveredAt = nil
	default:
		d.NextAttemptAt = fields.NextAttemptAt
		d.DeadLetterReason = ""
		d.DeliveredAt = nil
		if fields.ResetAttempts {
			d.AttemptCount = 0
		}
	}
}

// QueueSummaries implements store.DeliveryStore.
func (s *DeliveryStore) QueueSummaries(
	ctx context.Context,
	projectID uuid.UUID,
	now time.Time,
) ([]domain.ConnectorQueueSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byConnector := make(map[string]*domain.ConnectorQueueSummary)
	for _, id := range s.order {
		d := s.deliveries[id]
		if d.ProjectID != projectID {
			continue
		}

		summary, ok := byConnector[d.ConnectorType]
		if !ok {
			summary = &domain.ConnectorQueueSummary{ConnectorType: d.ConnectorType}
			byConnector[d.ConnectorType] = summary
		}

		switch d.Status {
		case domain.DeliveryStatusQueued:
			summary.Queued++
		case domain.DeliveryStatusRetrying:
			summary.Retrying++
		case domain.DeliveryStatusDelivered:
			summary.Delivered++
		case domain.DeliveryStatusDeadLettered:
			summary.DeadLettered++
		}

		if (d.Status == domain.DeliveryStatusQueued || d.Status == domain.DeliveryStatusRetrying) &&
			d.NextAttemptAt != nil && !d.NextAttemptAt.After(now) {
			summary.DueNow++
		}
	}

	summaries := make([]domain.ConnectorQueueSummary, 0, len(byConnector))
	for _, summary := range byConnector {
		total := summary.Queued + summary.Retrying + summary.Delivered + summary.DeadLettered
		if total > 0 {
			summary.DeliverySuccessRate = float64(summary.Delivered) / float64(total)
		}
		summaries = append(summaries, *summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].ConnectorType < summaries[j].ConnectorType
	})
	return summaries, nil
}

// WithTx implements store.DeliveryStore. The in-memory store has no
// transactions; the single mutex already serializes every mutation.
func (s *DeliveryStore) WithTx(tx *sql.Tx) store.DeliveryStore {
	return s
}

// PolicyStore is an in-memory store.PolicyStore.
type PolicyStore struct {
	mu       sync.Mutex
	policies map[uuid.UUID]*domain.BackpressurePolicy
	drafts   map[uuid.UUID]*domain.BackpressurePolicyDraft
	guardian map[uuid.UUID]*domain.GuardianPolicy
}

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies: make(map[uuid.UUID]*domain.BackpressurePolicy),
		drafts:   make(map[uuid.UUID]*domain.BackpressurePolicyDraft),
		guardian: make(map[uuid.UUID]*domain.GuardianPolicy),
	}
}

// GetPolicy implements store.PolicyStore.
func (s *PolicyStore) GetPolicy(ctx context.Context, projectID uuid.UUID) (*domain.BackpressurePolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[projectID]
	if !ok {
		return nil, store.ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

// EnsurePolicy implements store.PolicyStore.
func (s *PolicyStore) EnsurePolicy(
	ctx context.Context,
	projectID uuid.UUID,
	defaults domain.PolicyDefaults,
) (*domain.BackpressurePolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.policies[projectID]; ok {
		return copyPolicy(p), nil
	}

	p := domain.NewBackpressurePolicy(projectID, defaults)
	s.policies[projectID] = copyPolicy(p)
	return p, nil
}

// SavePolicy implements store.PolicyStore.
func (s *PolicyStore) SavePolicy(ctx context.Context, policy *domain.BackpressurePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[policy.ProjectID] = copyPolicy(policy)
	return nil
}

// GetDraft implements store.PolicyStore.
func (s *PolicyStore) GetDraft(ctx context.Context, projectID uuid.UUID) (*domain.BackpressurePolicyDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[projectID]
	if !ok {
		return nil, store.ErrDraftNotFound
	}
	return copyDraft(d), nil
}

// SaveDraft implements store.PolicyStore. Updates compare-and-swap on the
// UpdatedAt the caller read.
func (s *PolicyStore) SaveDraft(ctx context.Context, draft *domain.BackpressurePolicyDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.drafts[draft.ProjectID]; ok && !existing.UpdatedAt.Equal(draft.UpdatedAt) {
		return store.ErrConcurrency
	}

	draft.UpdatedAt = time.Now().UTC()
	s.drafts[draft.ProjectID] = copyDraft(draft)
	return nil
}

// DeleteDraft implements store.PolicyStore.
func (s *PolicyStore) DeleteDraft(ctx context.Context, projectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drafts[projectID]; !ok {
		return store.ErrDraftNotFound
	}
	delete(s.drafts, projectID)
	return nil
}

// GetGuardianPolicy implements store.PolicyStore.
func (s *PolicyStore) GetGuardianPolicy(ctx context.Context, projectID uuid.UUID) (*domain.GuardianPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.guardian[projectID]
	if !ok {
		return nil, store.ErrGuardianPolicyNotFound
	}
	copied := *p
	return &copied, nil
}

// SaveGuardianPolicy implements store.PolicyStore.
func (s *PolicyStore) SaveGuardianPolicy(ctx context.Context, policy *domain.GuardianPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *policy
	s.guardian[policy.ProjectID] = &copied
	return nil
}

// ListProjects implements store.PolicyStore.
func (s *PolicyStore) ListProjects(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects := make([]uuid.UUID, 0, len(s.policies))
	for id := range s.policies {
		projects = append(projects, id)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].String() < projects[j].String()
	})
	return projects, nil
}

// WithTx implements store.PolicyStore.
func (s *PolicyStore) WithTx(tx *sql.Tx) store.PolicyStore {
	return s
}

func copyPolicy(p *domain.BackpressurePolicy) *domain.BackpressurePolicy {
	copied := *p
	if p.ConnectorOverrides != nil {
		copied.ConnectorOverrides = make(map[string]domain.ConnectorOverride, len(p.ConnectorOverrides))
		for k, v := range p.ConnectorOverrides {
			copied.ConnectorOverrides[k] = v
		}
	}
	return &copied
}

func copyDraft(d *domain.BackpressurePolicyDraft) *domain.BackpressurePolicyDraft {
	copied := *d
	copied.Approvals = append([]domain.PolicyApproval(nil), d.Approvals...)
	if d.Patch.ConnectorOverrides != nil {
		overrides := make(map[string]domain.ConnectorOverride, len(d.Patch.ConnectorOverrides))
		for k, v := range d.Patch.ConnectorOverrides {
			overrides[k] = v
		}
		copied.Patch.ConnectorOverrides = overrides
	}
	return &copied
}

// AuditLog is an in-memory store.AuditLog.
type AuditLog struct {
	mu     sync.Mutex
	events []*events.AuditEvent
}

// NewAuditLog creates an empty in-memory audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// AppendEvent implements store.AuditLog.
func (l *AuditLog) AppendEvent(ctx context.Context, event *events.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *event
	l.events = append(l.events, &copied)
	return nil
}

// ListEvents implements store.AuditLog.
func (l *AuditLog) ListEvents(ctx context.Context, projectID uuid.UUID, limit int) ([]*events.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := make([]*events.AuditEvent, 0)
	for i := len(l.events) - 1; i >= 0; i-- {
		e := l.events[i]
		if e.ProjectID != projectID {
			continue
		}
		copied := *e
		matched = append(matched, &copied)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// LastGuardianActions implements store.AuditLog.
func (l *AuditLog) LastGuardianActions(ctx context.Context, projectID uuid.UUID) (map[string]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last := make(map[string]time.Time)
	for _, e := range l.events {
		if e.ProjectID != projectID || e.Type != events.EventTypeGuardianAction || e.ConnectorType == "" {
			continue
		}
		if existing, ok := last[e.ConnectorType]; !ok || e.CreatedAt.After(existing) {
			last[e.ConnectorType] = e.CreatedAt
		}
	}
	return last, nil
}

// WithTx implements store.AuditLog.
func (l *AuditLog) WithTx(tx *sql.Tx) store.AuditLog {
	return l
}
