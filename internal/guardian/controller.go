package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/events"
	"github.com/docuflux/courier-api/internal/insights"
	"github.com/docuflux/courier-api/internal/platform/metrics"
	"github.com/docuflux/courier-api/internal/pump"
	"github.com/docuflux/courier-api/internal/ranking"
	"github.com/docuflux/courier-api/internal/store"
)

// Config holds configuration for the guardian controller.
type Config struct {
	// TickInterval determines how often the guardian re-evaluates projects.
	TickInterval time.Duration

	// SnapshotLimit bounds how many recent deliveries feed the per-tick
	// insights snapshot.
	SnapshotLimit int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Minute,
		SnapshotLimit: 500,
	}
}

// Controller is the autonomous remediation loop. Each tick it ranks a
// project's connectors, gates the proposals by threshold, quota, and
// cooldown, then applies what survives. Action failures are recorded but
// never halt the loop; the next tick re-evaluates from current state.
type Controller struct {
	deliveries store.DeliveryStore
	policies   store.PolicyStore
	audit      store.AuditLog
	pump       *pump.Pump
	defaults   domain.PolicyDefaults
	config     Config
	guard      *pump.InflightGuard
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewController creates a guardian Controller.
func NewController(
	deliveries store.DeliveryStore,
	policies store.PolicyStore,
	audit store.AuditLog,
	deliveryPump *pump.Pump,
	defaults domain.PolicyDefaults,
	config Config,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Controller")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		deliveries: deliveries,
		policies:   policies,
		audit:      audit,
		pump:       deliveryPump,
		defaults:   defaults,
		config:     config,
		guard:      pump.NewInflightGuard(),
		logger:     logger.With(slog.String("component", "guardian_controller")),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start begins the periodic evaluation loop.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop gracefully shuts down the controller.
func (c *Controller) Stop() {
	c.cancelFunc()
	c.wg.Wait()
}

func (c *Controller) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("stopping guardian loop")
			return

		case <-ticker.C:
			if err := c.EvaluateAll(c.ctx); err != nil {
				c.logger.Error("guardian tick failed", "error", err)
			}
		}
	}
}

// EvaluateAll runs one guardian pass over every project with a live policy.
func (c *Controller) EvaluateAll(ctx context.Context) error {
	projects, err := c.policies.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	for _, projectID := range projects {
		if err := c.EvaluateProject(ctx, projectID); err != nil {
			c.logger.Error("failed to evaluate project",
				"project_id", projectID,
				"error", err)
		}
	}
	return nil
}

// EvaluateProject runs one guardian pass for a single project. An
// overlapping pass for the same project is skipped, never queued.
func (c *Controller) EvaluateProject(ctx context.Context, projectID uuid.UUID) error {
	guardianPolicy, err := c.policies.GetGuardianPolicy(ctx, projectID)
	if errors.Is(err, store.ErrGuardianPolicyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load guardian policy: %w", err)
	}
	if !guardianPolicy.IsEnabled {
		return nil
	}

	key := "guardian/" + projectID.String()
	if !c.guard.TryAcquire(key) {
		c.logger.Debug("skipping overlapping guardian pass", "project_id", projectID)
		return nil
	}
	defer c.guard.Release(key)

	now := time.Now().UTC()

	records, err := c.snapshotRecords(ctx, projectID, guardianPolicy.LookbackHours, now)
	if err != nil {
		return err
	}

	ranked := ranking.Rank(records)

	// Stage one: threshold, allow-list, and per-project quota.
	actions := SelectActions(
		ranked,
		guardianPolicy.RiskThreshold,
		guardianPolicy.MaxActionsPerProject,
		guardianPolicy.AllowProcessQueue,
		guardianPolicy.AllowRedrive,
	)
	if len(actions) == 0 {
		return nil
	}

	// Stage two: cooldown against the audit trail.
	lastActions, err := c.audit.LastGuardianActions(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load last guardian actions: %w", err)
	}

	eligible, skipped := ApplyCooldown(actions, lastActions, guardianPolicy.CooldownMinutes, now)
	for _, s := range skipped {
		metrics.GuardianActionsSkippedTotal.Inc()
		c.logger.Info("guardian action skipped by cooldown",
			"project_id", projectID,
			"connector_type", s.Action.ConnectorType,
			"kind", s.Action.Kind,
			"retry_after_seconds", s.RetryAfterSeconds)
	}

	for _, action := range eligible {
		c.execute(ctx, projectID, guardianPolicy, action, now)
	}
	return nil
}

// snapshotRecords takes a point-in-time snapshot of the project's connectors
// and builds the ranker's inputs. No locking; staleness up to one tick
// interval is acceptable.
func (c *Controller) snapshotRecords(
	ctx context.Context,
	projectID uuid.UUID,
	lookbackHours int,
	now time.Time,
) ([]ranking.ConnectorRecord, error) {
	summaries, err := c.deliveries.QueueSummaries(ctx, projectID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot queues: %w", err)
	}

	deliveries, err := c.deliveries.ListDeliveries(ctx, projectID, "", c.config.SnapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	byConnector := make(map[string][]*domain.ConnectorDelivery)
	attemptsByDelivery := make(map[uuid.UUID][]*domain.ConnectorDeliveryAttempt)
	for _, d := range deliveries {
		byConnector[d.ConnectorType] = append(byConnector[d.ConnectorType], d)
		attempts, err := c.deliveries.ListAttempts(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		attemptsByDelivery[d.ID] = attempts
	}

	records := make([]ranking.ConnectorRecord, 0, len(summaries))
	for _, summary := range summaries {
		records = append(records, ranking.ConnectorRecord{
			ConnectorType: summary.ConnectorType,
			Summary:       summary,
			Insights: insights.Compute(
				byConnector[summary.ConnectorType],
				attemptsByDelivery,
				lookbackHours,
				now,
			),
		})
	}
	return records, nil
}

// execute applies one action and records it in the audit trail, success or
// failure alike.
func (c *Controller) execute(
	ctx context.Context,
	projectID uuid.UUID,
	guardianPolicy *domain.GuardianPolicy,
	action Action,
	now time.Time,
) {
	var execErr error
	switch action.Kind {
	case ActionRedriveDeadLetters:
		execErr = c.redrive(ctx, projectID, guardianPolicy, action.ConnectorType, now)
	case ActionProcessQueue:
		execErr = c.processQueue(ctx, projectID, guardianPolicy, action.ConnectorType)
	}

	result := "success"
	if execErr != nil {
		result = "failure"
		c.logger.Error("guardian action failed",
			"project_id", projectID,
			"connector_type", action.ConnectorType,
			"kind", action.Kind,
			"error", execErr)
	} else {
		c.logger.Info("guardian action applied",
			"project_id", projectID,
			"connector_type", action.ConnectorType,
			"kind", action.Kind,
			"risk_score", action.RiskScore)
	}
	metrics.GuardianActionsTotal.WithLabelValues(string(action.Kind), result).Inc()

	payload := events.GuardianActionPayload{
		ActionKind: string(action.Kind),
		RiskScore:  action.RiskScore,
		Succeeded:  execErr == nil,
	}
	if execErr != nil {
		payload.Error = execErr.Error()
	}

	event, err := events.NewAuditEvent(
		projectID,
		events.EventTypeGuardianAction,
		"guardian",
		action.ConnectorType,
		payload,
	)
	if err != nil {
		c.logger.Error("failed to build guardian audit event", "error", err)
		return
	}
	if err := c.audit.AppendEvent(ctx, event); err != nil {
		c.logger.Error("failed to append guardian audit event", "error", err)
	}
}

// redrive moves quarantined dead letters back to queued with a fresh attempt
// budget so the pump retries them. Only deliveries dead-lettered for at least
// min_dead_letter_minutes are touched, at most action_limit per pass.
func (c *Controller) redrive(
	ctx context.Context,
	projectID uuid.UUID,
	guardianPolicy *domain.GuardianPolicy,
	connectorType string,
	now time.Time,
) error {
	cutoff := now.Add(-time.Duration(guardianPolicy.MinDeadLetterMinutes) * time.Minute)
	deadLettered, err := c.deliveries.ListDeadLettered(ctx, projectID, connectorType, cutoff, guardianPolicy.ActionLimit)
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}

	var firstErr error
	for _, d := range deadLettered {
		nextAttempt := now
		_, err := c.deliveries.TransitionDelivery(ctx, d.ID, domain.DeliveryStatusQueued, store.TransitionFields{
			NextAttemptAt: &nextAttempt,
			ResetAttempts: true,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// processQueue forces an immediate bounded drain of one connector.
func (c *Controller) processQueue(
	ctx context.Context,
	projectID uuid.UUID,
	guardianPolicy *domain.GuardianPolicy,
	connectorType string,
) error {
	policy, err := c.policies.EnsurePolicy(ctx, projectID, c.defaults)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	now := time.Now().UTC()
	summaries, err := c.deliveries.QueueSummaries(ctx, projectID, now)
	if err != nil {
		return fmt.Errorf("failed to snapshot queues: %w", err)
	}

	depth := 0
	for _, s := range summaries {
		if s.ConnectorType == connectorType {
			depth = s.DueNow
			break
		}
	}

	c.pump.DrainConnector(ctx, projectID, connectorType, guardianPolicy.ActionLimit, policy, depth)
	return nil
}
