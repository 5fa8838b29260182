package guardian

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/events"
	"github.com/docuflux/courier-api/internal/pump"
	"github.com/docuflux/courier-api/internal/store"
	"github.com/docuflux/courier-api/internal/store/memory"
)

// refusingSender fails every dispatch so drained deliveries stay failing.
type refusingSender struct{}

func (refusingSender) Deliver(ctx context.Context, delivery *domain.ConnectorDelivery) (int, error) {
	return 503, nil
}

type controllerEnv struct {
	controller *Controller
	deliveries *memory.DeliveryStore
	policies   *memory.PolicyStore
	audit      *memory.AuditLog
}

func newControllerEnv(t *testing.T) *controllerEnv {
	t.Helper()
	deliveries := memory.NewDeliveryStore()
	policies := memory.NewPolicyStore()
	audit := memory.NewAuditLog()
	defaults := domain.PolicyDefaults{IsEnabled: true, MaxRetrying: 50, MaxDueNow: 100, MinLimit: 1}
	logger := slog.Default()

	deliveryPump := pump.New(deliveries, policies, audit, refusingSender{}, defaults, pump.DefaultConfig(), logger)
	controller := NewController(deliveries, policies, audit, deliveryPump, defaults, DefaultConfig(), logger)

	return &controllerEnv{
		controller: controller,
		deliveries: deliveries,
		policies:   policies,
		audit:      audit,
	}
}

func guardianPolicy(projectID uuid.UUID) *domain.GuardianPolicy {
	now := time.Now().UTC()
	return &domain.GuardianPolicy{
		ProjectID:            projectID,
		IsEnabled:            true,
		LookbackHours:        24,
		RiskThreshold:        50,
		MaxActionsPerProject: 3,
		ActionLimit:          10,
		CooldownMinutes:      0,
		MinDeadLetterMinutes: 0,
		AllowProcessQueue:    true,
		AllowRedrive:         true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// deadLetter quarantines a delivery with its single-attempt budget spent,
// the state a real dead letter arrives in.
func deadLetter(t *testing.T, deliveries *memory.DeliveryStore, projectID uuid.UUID, hash string) *domain.ConnectorDelivery {
	t.Helper()
	delivery, err := domain.NewConnectorDelivery(projectID, "webhook", "", hash, 1)
	require.NoError(t, err)
	stored, _, err := deliveries.EnqueueDelivery(context.Background(), delivery)
	require.NoError(t, err)
	code := 503
	_, err = deliveries.RecordAttempt(context.Background(), stored.ID, domain.AttemptOutcome{StatusCode: &code})
	require.NoError(t, err)
	_, err = deliveries.TransitionDelivery(context.Background(), stored.ID,
		domain.DeliveryStatusDeadLettered, store.TransitionFields{DeadLetterReason: "exhausted"})
	require.NoError(t, err)
	return stored
}

func TestEvaluateProjectSkipsWithoutPolicy(t *testing.T) {
	t.Parallel()
	env := newControllerEnv(t)
	projectID := uuid.New()
	deadLetter(t, env.deliveries, projectID, "hash-1")

	// No guardian policy configured: the pass is a silent no-op
	require.NoError(t, env.controller.EvaluateProject(context.Background(), projectID))

	evts, err := env.audit.ListEvents(context.Background(), projectID, 10)
	require.NoError(t, err)
	assert.Empty(t, evts)
}

func TestEvaluateProjectSkipsWhenDisabled(t *testing.T) {
	t.Parallel()
	env := newControllerEnv(t)
	projectID := uuid.New()
	ctx := context.Background()
	deadLetter(t, env.deliveries, projectID, "hash-1")

	policy := guardianPolicy(projectID)
	policy.IsEnabled = false
	require.NoError(t, env.policies.SaveGuardianPolicy(ctx, policy))

	require.NoError(t, env.controller.EvaluateProject(ctx, projectID))

	evts, err := env.audit.ListEvents(ctx, projectID, 10)
	require.NoError(t, err)
	assert.Empty(t, evts)
}

func TestEvaluateProjectRedrivesDeadLetters(t *testing.T) {
	t.Parallel()
	env := newControllerEnv(t)
	projectID := uuid.New()
	ctx := context.Background()

	stored := deadLetter(t, env.deliveries, projectID, "hash-1")
	require.NoError(t, env.policies.SaveGuardianPolicy(ctx, guardianPolicy(projectID)))

	require.NoError(t, env.controller.EvaluateProject(ctx, projectID))

	got, err := env.deliveries.GetDelivery(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusQueued, got.Status, "dead letter redriven back to queued")
	assert.Empty(t, got.DeadLetterReason)
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, 0, got.AttemptCount, "redrive must grant a fresh attempt budget")

	evts, err := env.audit.ListEvents(ctx, projectID, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.EventTypeGuardianAction, evts[0].Type)
	assert.Equal(t, "guardian", evts[0].Actor)
	assert.Equal(t, "webhook", evts[0].ConnectorType)

	payload, ok := evts[0].Decode().(*events.GuardianActionPayload)
	require.True(t, ok)
	assert.Equal(t, string(ActionRedriveDeadLetters), payload.ActionKind)
	assert.True(t, payload.Succeeded)
}

func TestEvaluateProjectRespectsQuarantineAge(t *testing.T) {
	t.Parallel()
	env := newControllerEnv(t)
	projectID := uuid.New()
	ctx := context.Background()

	stored := deadLetter(t, env.deliveries, projectID, "hash-1")

	policy := guardianPolicy(projectID)
	policy.MinDeadLetterMinutes = 30
	require.NoError(t, env.policies.SaveGuardianPolicy(ctx, policy))

	require.NoError(t, env.controller.EvaluateProject(ctx, projectID))

	// Quarantined moments ago, inside the minimum age: left alone
	got, err := env.deliveries.GetDelivery(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusDeadLettered, got.Status)
}

func TestEvaluateProjectHonorsCooldown(t *testing.T) {
	t.Parallel()
	env := newControllerEnv(t)
	projectID := uuid.New()
	ctx := context.Background()

	stored := deadLetter(t, env.deliveries, projectID, "hash-1")

	policy := guardianPolicy(projectID)
	policy.CooldownMinutes = 60
	require.NoError(t, env.policies.SaveGuardianPolicy(ctx, policy))

	// A recent guardian action on the same connector suppresses this pass
	recent, err := events.NewAuditEvent(projectID, events.EventTypeGuardianAction, "guardian", "webhook",
		events.GuardianActionPayload{ActionKind: string(ActionRedriveDeadLetters), Succeeded: true})
	require.NoError(t, err)
	require.NoError(t, env.audit.AppendEvent(ctx, recent))

	require.NoError(t, env.controller.EvaluateProject(ctx, projectID))

	got, err := env.deliveries.GetDelivery(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusDeadLettered, got.Status, "cooldown suppresses the redrive")
}

func TestEvaluateProjectBelowThreshold(t *testing.T) {
	t.Parallel()
	env := newControllerEnv(t)
	projectID := uuid.New()
	ctx := context.Background()

	// A small queued backlog scores far below the threshold
	delivery, err := domain.NewConnectorDelivery(projectID, "webhook", "", "hash-1", 8)
	require.NoError(t, err)
	_, _, err = env.deliveries.EnqueueDelivery(ctx, delivery)
	require.NoError(t, err)

	require.NoError(t, env.policies.SaveGuardianPolicy(ctx, guardianPolicy(projectID)))
	require.NoError(t, env.controller.EvaluateProject(ctx, projectID))

	evts, err := env.audit.ListEvents(ctx, projectID, 10)
	require.NoError(t, err)
	assert.Empty(t, evts, "sub-threshold risk takes no action")
}
