// Package ranking scores connectors by operational risk and proposes a
// remediation action for each. Scores are relative: the exact weights are an
// implementation choice, but the orderings they produce are load-bearing and
// covered by tests: dead letters dominate every queue-pressure term
// combined, and a healthy idle connector scores zero.
package ranking

import (
	"sort"

	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/insights"
)

// Recommendation is the remediation action derived from a connector's state.
type Recommendation string

// Possible recommendations, strongest first.
const (
	RecommendationRedriveDeadLetters Recommendation = "redrive_dead_letters"
	RecommendationProcessQueue       Recommendation = "process_queue"
	RecommendationHealthy            Recommendation = "healthy"
)

// Risk reason labels surfaced for operator explainability and guardian gating.
const (
	ReasonDeadLettersPresent = "dead_letters_present"
	ReasonRetryBacklog       = "high_retry_backlog"
	ReasonDueDeliveries      = "due_deliveries_waiting"
	ReasonQueuedBacklog      = "queued_backlog"
	ReasonLowSuccessRate     = "low_delivery_success_rate"
)

// Scoring weights. The dead-letter base exceeds the sum of every other
// term's ceiling (12+10+3+20=45), so dead letters always outrank.
const (
	deadLetterBase     = 55.0
	deadLetterScale    = 15.0
	retryingWeight     = 12.0
	dueNowWeight       = 10.0
	queuedWeight       = 3.0
	successRateWeight  = 20.0
	retryingSaturation = 50.0
	dueNowSaturation   = 100.0
	queuedSaturation   = 100.0
	deadLetterSat      = 10.0
)

// ConnectorRecord is one connector's inputs to the ranker.
type ConnectorRecord struct {
	ConnectorType string
	Summary       domain.ConnectorQueueSummary
	Insights      insights.ConnectorInsights
}

// RankedConnector is one connector's scored output.
type RankedConnector struct {
	ConnectorType  string                       `json:"connector_type"`
	RiskScore      float64                      `json:"risk_score"`
	Recommendation Recommendation               `json:"recommendation"`
	RiskReasons    []string                     `json:"risk_reasons"`
	Summary        domain.ConnectorQueueSummary `json:"summary"`
}

// Rank scores every record and returns them ordered by risk descending.
// Ties break on connector type for deterministic output.
func Rank(records []ConnectorRecord) []RankedConnector {
	ranked := make([]RankedConnector, 0, len(records))
	for _, rec := range records {
		ranked = append(ranked, score(rec))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RiskScore != ranked[j].RiskScore {
			return ranked[i].RiskScore > ranked[j].RiskScore
		}
		return ranked[i].ConnectorType < ranked[j].ConnectorType
	})

	return ranked
}

func score(rec ConnectorRecord) RankedConnector {
	s := rec.Summary
	risk := 0.0
	reasons := []string{}

	if s.DeadLettered > 0 {
		risk += deadLetterBase + deadLetterScale*saturate(float64(s.DeadLettered)/deadLetterSat)
		reasons = append(reasons, ReasonDeadLettersPresent)
	}

	if s.Retrying > 0 {
		risk += retryingWeight * saturate(float64(s.Retrying)/retryingSaturation)
		reasons = append(reasons, ReasonRetryBacklog)
	}

	if s.DueNow > 0 {
		risk += dueNowWeight * saturate(float64(s.DueNow)/dueNowSaturation)
		reasons = append(reasons, ReasonDueDeliveries)
	}

	if s.Queued > 0 {
		risk += queuedWeight * saturate(float64(s.Queued)/queuedSaturation)
		reasons = append(reasons, ReasonQueuedBacklog)
	}

	// An idle connector has no success rate to penalize.
	population := s.Queued + s.Retrying + s.DeadLettered + s.Delivered
	if population > 0 && s.DeliverySuccessRate < 1.0 {
		risk += successRateWeight * (1.0 - s.DeliverySuccessRate)
		reasons = append(reasons, ReasonLowSuccessRate)
	}

	return RankedConnector{
		ConnectorType:  rec.ConnectorType,
		RiskScore:      risk,
		Recommendation: recommend(s),
		RiskReasons:    reasons,
		Summary:        s,
	}
}

// recommend derives the remediation action: redrive when dead letters exist,
// process when work is waiting, healthy otherwise.
func recommend(s domain.ConnectorQueueSummary) Recommendation {
	switch {
	case s.DeadLettered > 0:
		return RecommendationRedriveDeadLetters
	case s.DueNow > 0 || s.Queued > 0:
		return RecommendationProcessQueue
	default:
		return RecommendationHealthy
	}
}

func saturate(x float64) float64 {
	if x > 1 {
		return 1
	}
	return x
}
