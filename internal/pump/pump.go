// Package pump drains due connector deliveries under the live backpressure
// policy. It runs as a periodic control-loop tick, not a blocking consumer.
package pump

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docuflux/courier-api/internal/backpressure"
	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/events"
	"github.com/docuflux/courier-api/internal/platform/metrics"
	"github.com/docuflux/courier-api/internal/store"
)

// Sender dispatches one delivery to its connector endpoint. Implementations
// must honor the context deadline; the pump treats a timeout as a failed
// attempt.
type Sender interface {
	// Deliver performs the dispatch and returns the endpoint's status code.
	// A non-nil error means the endpoint was unreachable or timed out.
	Deliver(ctx context.Context, delivery *domain.ConnectorDelivery) (int, error)
}

// Config holds configuration for the delivery pump.
type Config struct {
	// TickInterval determines how often the pump drains due deliveries.
	TickInterval time.Duration

	// AttemptTimeout bounds each individual delivery attempt.
	AttemptTimeout time.Duration

	// RequestedLimit is the per-connector drain limit each tick asks for,
	// before the backpressure policy clamps it.
	RequestedLimit int

	// BackoffBase is the delay before the first retry; each subsequent
	// retry doubles it.
	BackoffBase time.Duration

	// BackoffMax caps the exponential backoff.
	BackoffMax time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:   15 * time.Second,
		AttemptTimeout: 10 * time.Second,
		RequestedLimit: 100,
		BackoffBase:    30 * time.Second,
		BackoffMax:     time.Hour,
	}
}

// Pump is the external-facing drain loop over the delivery store.
type Pump struct {
	deliveries store.DeliveryStore
	policies   store.PolicyStore
	audit      store.AuditLog
	sender     Sender
	defaults   domain.PolicyDefaults
	config     Config
	guard      *InflightGuard
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Pump. Policy defaults are threaded in explicitly.
func New(
	deliveries store.DeliveryStore,
	policies store.PolicyStore,
	audit store.AuditLog,
	sender Sender,
	defaults domain.PolicyDefaults,
	config Config,
	logger *slog.Logger,
) *Pump {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Pump")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pump{
		deliveries: deliveries,
		policies:   policies,
		audit:      audit,
		sender:     sender,
		defaults:   defaults,
		config:     config,
		guard:      NewInflightGuard(),
		logger:     logger.With(slog.String("component", "delivery_pump")),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start begins the periodic drain loop.
func (p *Pump) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop gracefully shuts down the pump, waiting for the in-flight tick.
// In-flight attempts are not interrupted mid-attempt.
func (p *Pump) Stop() {
	p.cancelFunc()
	p.wg.Wait()
}

func (p *Pump) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping pump loop")
			return

		case <-ticker.C:
			metrics.PumpTicksTotal.Inc()
			if err := p.DrainAll(p.ctx); err != nil {
				p.logger.Error("drain tick failed", "error", err)
			}
		}
	}
}

// DrainAll drains every project with a live policy. Policy changes take
// effect here, on the next tick, never mid-attempt.
func (p *Pump) DrainAll(ctx context.Context) error {
	projects, err := p.policies.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	for _, projectID := range projects {
		if err := p.DrainProject(ctx, projectID, p.config.RequestedLimit); err != nil {
			p.logger.Error("failed to drain project",
				"project_id", projectID,
				"error", err)
		}
	}
	return nil
}

// DrainProject drains every connector of one project in parallel, each
// bounded by the live policy's effective limit.
func (p *Pump) DrainProject(ctx context.Context, projectID uuid.UUID, requested int) error {
	policy, err := p.policies.EnsurePolicy(ctx, projectID, p.defaults)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	now := time.Now().UTC()
	summaries, err := p.deliveries.QueueSummaries(ctx, projectID, now)
	if err != nil {
		return fmt.Errorf("failed to snapshot queues: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, summary := range summaries {
		g.Go(func() error {
			p.DrainConnector(gctx, projectID, summary.ConnectorType, requested, policy, summary.DueNow)
			return nil
		})
	}
	return g.Wait()
}

// DrainConnector drains one connector's due deliveries. An overlapping tick
// for the same project/connector is skipped, never queued.
func (p *Pump) DrainConnector(
	ctx context.Context,
	projectID uuid.UUID,
	connectorType string,
	requested int,
	policy *domain.BackpressurePolicy,
	queueDepth int,
) {
	key := projectID.String() + "/" + connectorType
	if !p.guard.TryAcquire(key) {
		metrics.PumpTicksSkippedTotal.Inc()
		p.logger.Debug("skipping overlapping drain tick",
			"project_id", projectID,
			"connector_type", connectorType)
		return
	}
	defer p.guard.Release(key)

	limit := backpressure.EffectiveLimit(requested, queueDepth, policy, connectorType)
	if limit <= 0 {
		return
	}

	now := time.Now().UTC()
	due, err := p.deliveries.ListDueDeliveries(ctx, projectID, connectorType, now, limit)
	if err != nil {
		p.logger.Error("failed to list due deliveries",
			"project_id", projectID,
			"connector_type", connectorType,
			"error", err)
		return
	}

	for _, delivery := range due {
		p.attempt(ctx, delivery)
	}
}

// attempt dispatches one delivery and records the outcome. Every transition
// is total: the delivery always lands in delivered, retrying, or
// dead_lettered, never an ambiguous state.
func (p *Pump) attempt(ctx context.Context, delivery *domain.ConnectorDelivery) {
	logger := p.logger.With(
		"delivery_id", delivery.ID,
		"connector_type", delivery.ConnectorType,
	)

	attemptCtx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
	defer cancel()

	started := time.Now().UTC()
	statusCode, sendErr := p.sender.Deliver(attemptCtx, delivery)
	latency := time.Since(started)
	metrics.DeliveryAttemptDuration.Observe(latency.Seconds())

	outcome := domain.AttemptOutcome{
		LatencyMs:   latency.Milliseconds(),
		AttemptedAt: started,
	}
	if statusCode != 0 {
		outcome.StatusCode = &statusCode
	}
	if sendErr != nil {
		outcome.Error = sendErr.Error()
	}

	if _, err := p.deliveries.RecordAttempt(ctx, delivery.ID, outcome); err != nil {
		logger.Error("failed to record attempt", "error", err)
		return
	}
	delivery.AttemptCount++

	if outcome.Succeeded() {
		metrics.DeliveryAttemptsTotal.WithLabelValues("success").Inc()
		deliveredAt := time.Now().UTC()
		_, err := p.deliveries.TransitionDelivery(ctx, delivery.ID, domain.DeliveryStatusDelivered, store.TransitionFields{
			DeliveredAt:    &deliveredAt,
			LastStatusCode: outcome.StatusCode,
		})
		if err != nil {
			logger.Error("failed to mark delivery delivered", "error", err)
		}
		return
	}

	metrics.DeliveryAttemptsTotal.WithLabelValues("failure").Inc()
	logger.Debug("delivery attempt failed",
		"attempt_count", delivery.AttemptCount,
		"error", outcome.Error)

	if delivery.Exhausted() {
		p.deadLetter(ctx, delivery, outcome)
		return
	}

	nextAttempt := time.Now().UTC().Add(p.backoff(delivery.AttemptCount))
	_, err := p.deliveries.TransitionDelivery(ctx, delivery.ID, domain.DeliveryStatusRetrying, store.TransitionFields{
		NextAttemptAt:  &nextAttempt,
		LastStatusCode: outcome.StatusCode,
		LastError:      outcome.Error,
	})
	if err != nil {
		logger.Error("failed to schedule retry", "error", err)
	}
}

// deadLetter quarantines a delivery that exhausted its retry budget.
func (p *Pump) deadLetter(ctx context.Context, delivery *domain.ConnectorDelivery, outcome domain.AttemptOutcome) {
	reason := outcome.Error
	if reason == "" && outcome.StatusCode != nil {
		reason = fmt.Sprintf("endpoint returned status %d", *outcome.StatusCode)
	}
	if reason == "" {
		reason = "retry budget exhausted"
	}

	_, err := p.deliveries.TransitionDelivery(ctx, delivery.ID, domain.DeliveryStatusDeadLettered, store.TransitionFields{
		DeadLetterReason: reason,
		LastStatusCode:   outcome.StatusCode,
		LastError:        outcome.Error,
	})
	if err != nil {
		p.logger.Error("failed to dead-letter delivery",
			"delivery_id", delivery.ID,
			"error", err)
		return
	}

	metrics.DeliveriesDeadLetteredTotal.Inc()
	p.logger.Warn("delivery dead-lettered",
		"delivery_id", delivery.ID,
		"connector_type", delivery.ConnectorType,
		"attempts", delivery.AttemptCount,
		"reason", reason)

	event, err := events.NewAuditEvent(
		delivery.ProjectID,
		events.EventTypeDeliveryDeadLetter,
		"pump",
		delivery.ConnectorType,
		events.DeliveryDeadLetterPayload{
			DeliveryID: delivery.ID,
			Reason:     reason,
			Attempts:   delivery.AttemptCount,
		},
	)
	if err == nil {
		if appendErr := p.audit.AppendEvent(ctx, event); appendErr != nil {
			p.logger.Error("failed to append dead-letter audit event", "error", appendErr)
		}
	}
}

// backoff returns the delay before the next attempt: base doubled per prior
// attempt, capped at the configured maximum.
func (p *Pump) backoff(attemptCount int) time.Duration {
	d := p.config.BackoffBase
	for i := 1; i < attemptCount; i++ {
		d *= 2
		if d >= p.config.BackoffMax {
			return p.config.BackoffMax
		}
	}
	if d > p.config.BackoffMax {
		return p.config.BackoffMax
	}
	return d
}
