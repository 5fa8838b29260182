package backpressure

import (
	"testing"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
)

func testPolicy(mutate func(*domain.BackpressurePolicy)) *domain.BackpressurePolicy {
	policy := &domain.BackpressurePolicy{
		ProjectID:   uuid.New(),
		IsEnabled:   true,
		MaxRetrying: 50,
		MaxDueNow:   100,
		MinLimit:    1,
	}
	if mutate != nil {
		mutate(policy)
	}
	return policy
}

func TestEffectiveLimit(t *testing.T) {
	t.Parallel() // Enable parallel execution
	tests := []struct {
		name       string
		requested  int
		queueDepth int
		policy     *domain.BackpressurePolicy
		connector  string
		want       int
	}{
		{
			name:       "disabled policy drains nothing",
			requested:  100,
			queueDepth: 100,
			policy:     testPolicy(func(p *domain.BackpressurePolicy) { p.IsEnabled = false }),
			connector:  "webhook",
			want:       0,
		},
		{
			name:       "empty queue drains nothing",
			requested:  100,
			queueDepth: 0,
			policy:     testPolicy(nil),
			connector:  "webhook",
			want:       0,
		},
		{
			name:       "requested within all caps",
			requested:  10,
			queueDepth: 100,
			policy:     testPolicy(nil),
			connector:  "webhook",
			want:       10,
		},
		{
			name:       "max_retrying caps the request",
			requested:  100,
			queueDepth: 100,
			policy:     testPolicy(nil),
			connector:  "webhook",
			want:       50,
		},
		{
			name:       "queue depth caps the request",
			requested:  100,
			queueDepth: 7,
			policy:     testPolicy(nil),
			connector:  "webhook",
			want:       7,
		},
		{
			name:       "min_limit raises a low request",
			requested:  1,
			queueDepth: 100,
			policy:     testPolicy(func(p *domain.BackpressurePolicy) { p.MinLimit = 5 }),
			connector:  "webhook",
			want:       5,
		},
		{
			name:       "ceiling wins over the floor",
			requested:  1,
			queueDepth: 2,
			policy:     testPolicy(func(p *domain.BackpressurePolicy) { p.MinLimit = 10 }),
			connector:  "webhook",
			want:       2,
		},
		{
			name:       "connector override narrows the project default",
			requested:  100,
			queueDepth: 100,
			policy: testPolicy(func(p *domain.BackpressurePolicy) {
				p.ConnectorOverrides = map[string]domain.ConnectorOverride{
					"sftp": {IsEnabled: true, MaxRetrying: 5, MaxDueNow: 5, MinLimit: 1},
				}
			}),
			connector: "sftp",
			want:      5,
		},
		{
			name:       "disabled override drains nothing while project stays enabled",
			requested:  100,
			queueDepth: 100,
			policy: testPolicy(func(p *domain.BackpressurePolicy) {
				p.ConnectorOverrides = map[string]domain.ConnectorOverride{
					"sftp": {IsEnabled: false, MaxRetrying: 5, MaxDueNow: 5, MinLimit: 1},
				}
			}),
			connector: "sftp",
			want:      0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := EffectiveLimit(tc.requested, tc.queueDepth, tc.policy, tc.connector)
			if got != tc.want {
				t.Errorf("EffectiveLimit(%d, %d) = %d, want %d", tc.requested, tc.queueDepth, got, tc.want)
			}
		})
	}
}

func TestSimulate(t *testing.T) {
	t.Parallel()
	current := testPolicy(func(p *domain.BackpressurePolicy) { p.MaxRetrying = 10 })
	candidate := testPolicy(func(p *domain.BackpressurePolicy) { p.MaxRetrying = 30 })

	summaries := map[string]domain.ConnectorQueueSummary{
		"webhook": {ConnectorType: "webhook", DueNow: 25},
		"sftp":    {ConnectorType: "sftp", DueNow: 5},
	}

	sim := Simulate([]string{"sftp", "webhook"}, 100, summaries, current, candidate)

	if sim.RequestedLimit != 100 {
		t.Errorf("Expected requested limit 100, got %d", sim.RequestedLimit)
	}
	if len(sim.ByConnector) != 2 {
		t.Fatalf("Expected 2 connector simulations, got %d", len(sim.ByConnector))
	}

	// sftp: depth 5 caps both policies at 5, no delta
	sftp := sim.ByConnector[0]
	if sftp.ConnectorType != "sftp" || sftp.CurrentLimit != 5 || sftp.CandidateLimit != 5 || sftp.Delta != 0 {
		t.Errorf("Unexpected sftp simulation: %+v", sftp)
	}

	// webhook: depth 25, current capped at 10, candidate at 25
	webhook := sim.ByConnector[1]
	if webhook.CurrentLimit != 10 || webhook.CandidateLimit != 25 || webhook.Delta != 15 {
		t.Errorf("Unexpected webhook simulation: %+v", webhook)
	}

	if sim.CurrentTotal != 15 || sim.CandidateTotal != 30 || sim.TotalDelta != 15 {
		t.Errorf("Unexpected totals: current %d, candidate %d, delta %d",
			sim.CurrentTotal, sim.CandidateTotal, sim.TotalDelta)
	}
}

func TestSimulateUnknownConnector(t *testing.T) {
	t.Parallel()
	policy := testPolicy(nil)

	// A connector with no summary has depth 0, so nothing drains
	sim := Simulate([]string{"ghost"}, 10, map[string]domain.ConnectorQueueSummary{}, policy, policy)

	if sim.ByConnector[0].QueueDepth != 0 || sim.ByConnector[0].CurrentLimit != 0 {
		t.Errorf("Expected zero drain for connector with no queue, got %+v", sim.ByConnector[0])
	}
}
