package backpressure

import (
	"github.com/docuflux/courier-api/internal/domain"
)

// ConnectorSimulation previews one connector's drain under both policies.
type ConnectorSimulation struct {
	ConnectorType  string `json:"connector_type"`
	QueueDepth     int    `json:"queue_depth"`
	CurrentLimit   int    `json:"current_limit"`
	CandidateLimit int    `json:"candidate_limit"`
	Delta          int    `json:"delta"`
}

// Simulation previews a candidate policy's drain effect against the current
// one, so an amendment can be inspected before approval.
type Simulation struct {
	RequestedLimit int                   `json:"requested_limit"`
	ByConnector    []ConnectorSimulation `json:"by_connector"`
	CurrentTotal   int                   `json:"current_total"`
	CandidateTotal int                   `json:"candidate_total"`
	TotalDelta     int                   `json:"total_delta"`
}

// Simulate computes, per connector, the effective drain limit under the
// current and candidate policies. Pure; never touches the store.
func Simulate(
	connectorTypes []string,
	requestedLimit int,
	summariesByConnector map[string]domain.ConnectorQueueSummary,
	currentPolicy, candidatePolicy *domain.BackpressurePolicy,
) Simulation {
	sim := Simulation{
		RequestedLimit: requestedLimit,
		ByConnector:    make([]ConnectorSimulation, 0, len(connectorTypes)),
	}

	for _, connectorType := range connectorTypes {
		depth := summariesByConnector[connectorType].DueNow

		current := EffectiveLimit(requestedLimit, depth, currentPolicy, connectorType)
		candidate := EffectiveLimit(requestedLimit, depth, candidatePolicy, connectorType)

		sim.ByConnector = append(sim.ByConnector, ConnectorSimulation{
			ConnectorType:  connectorType,
			QueueDepth:     depth,
			CurrentLimit:   current,
			CandidateLimit: candidate,
			Delta:          candidate - current,
		})
		sim.CurrentTotal += current
		sim.CandidateTotal += candidate
	}

	sim.TotalDelta = sim.CandidateTotal - sim.CurrentTotal
	return sim
}

// EffectiveLimit clamps a requested drain limit for one connector:
// clamp(requested, min_limit, min(max_retrying, max_due_now, queue_depth)).
// A disabled connector drains nothing. The capacity ceiling wins when it
// falls below min_limit; the floor cannot conjure deliveries that are not
// due. The pump uses the same arithmetic, so simulations match reality.
func EffectiveLimit(
	requested, queueDepth int,
	policy *domain.BackpressurePolicy,
	connectorType string,
) int {
	override := policy.OverrideFor(connectorType)
	if !override.IsEnabled {
		return 0
	}

	ceiling := min3(override.MaxRetrying, override.MaxDueNow, queueDepth)
	if ceiling <= 0 {
		return 0
	}

	limit := requested
	if limit < override.MinLimit {
		limit = override.MinLimit
	}
	if limit > ceiling {
		limit = ceiling
	}
	return limit
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
