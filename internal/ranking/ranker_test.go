package ranking

import (
	"testing"

	"github.com/docuflux/courier-api/internal/domain"
)

func record(connectorType string, summary domain.ConnectorQueueSummary) ConnectorRecord {
	summary.ConnectorType = connectorType
	return ConnectorRecord{ConnectorType: connectorType, Summary: summary}
}

func TestRankIdleConnectorScoresZero(t *testing.T) {
	t.Parallel() // Enable parallel execution
	ranked := Rank([]ConnectorRecord{record("webhook", domain.ConnectorQueueSummary{})})

	if len(ranked) != 1 {
		t.Fatalf("Expected 1 ranked connector, got %d", len(ranked))
	}
	if ranked[0].RiskScore != 0 {
		t.Errorf("Expected idle connector to score 0, got %f", ranked[0].RiskScore)
	}
	if ranked[0].Recommendation != RecommendationHealthy {
		t.Errorf("Expected healthy recommendation, got %s", ranked[0].Recommendation)
	}
	if len(ranked[0].RiskReasons) != 0 {
		t.Errorf("Expected no risk reasons, got %v", ranked[0].RiskReasons)
	}
}

func TestRankDeadLettersDominate(t *testing.T) {
	t.Parallel()
	// A single dead letter must outrank maximal queue pressure with a
	// zero success rate.
	oneDeadLetter := record("sftp", domain.ConnectorQueueSummary{
		DeadLettered:        1,
		Delivered:           100,
		DeliverySuccessRate: 0.99,
	})
	maxPressure := record("webhook", domain.ConnectorQueueSummary{
		Queued:              1000,
		Retrying:            1000,
		DueNow:              1000,
		DeliverySuccessRate: 0,
	})

	ranked := Rank([]ConnectorRecord{maxPressure, oneDeadLetter})

	if ranked[0].ConnectorType != "sftp" {
		t.Errorf("Expected dead-lettered connector ranked first, got %s", ranked[0].ConnectorType)
	}
	if ranked[0].Recommendation != RecommendationRedriveDeadLetters {
		t.Errorf("Expected redrive recommendation, got %s", ranked[0].Recommendation)
	}
	if ranked[1].Recommendation != RecommendationProcessQueue {
		t.Errorf("Expected process_queue recommendation, got %s", ranked[1].Recommendation)
	}
}

func TestRankRiskReasons(t *testing.T) {
	t.Parallel()
	ranked := Rank([]ConnectorRecord{record("webhook", domain.ConnectorQueueSummary{
		Queued:              5,
		Retrying:            3,
		DueNow:              2,
		DeadLettered:        1,
		Delivered:           10,
		DeliverySuccessRate: 0.5,
	})})

	reasons := ranked[0].RiskReasons
	want := []string{
		ReasonDeadLettersPresent,
		ReasonRetryBacklog,
		ReasonDueDeliveries,
		ReasonQueuedBacklog,
		ReasonLowSuccessRate,
	}
	if len(reasons) != len(want) {
		t.Fatalf("Expected %d reasons, got %v", len(want), reasons)
	}
	for i, r := range want {
		if reasons[i] != r {
			t.Errorf("Expected reason %s at position %d, got %s", r, i, reasons[i])
		}
	}
}

func TestRankSuccessRatePenaltySkipsIdle(t *testing.T) {
	t.Parallel()
	// Zero population means the zero success rate is vacuous, not alarming
	idle := record("idle", domain.ConnectorQueueSummary{DeliverySuccessRate: 0})
	struggling := record("busy", domain.ConnectorQueueSummary{
		Delivered:           4,
		Queued:              0,
		DeliverySuccessRate: 0.4,
	})

	ranked := Rank([]ConnectorRecord{idle, struggling})

	if ranked[0].ConnectorType != "busy" {
		t.Errorf("Expected busy connector ranked first, got %s", ranked[0].ConnectorType)
	}
	if ranked[1].RiskScore != 0 {
		t.Errorf("Expected idle connector to score 0, got %f", ranked[1].RiskScore)
	}
}

func TestRankTieBreaksOnConnectorType(t *testing.T) {
	t.Parallel()
	summary := domain.ConnectorQueueSummary{Queued: 10, DeliverySuccessRate: 1.0, Delivered: 5}
	ranked := Rank([]ConnectorRecord{
		record("zeta", summary),
		record("alpha", summary),
		record("mid", summary),
	})

	if ranked[0].ConnectorType != "alpha" || ranked[1].ConnectorType != "mid" || ranked[2].ConnectorType != "zeta" {
		t.Errorf("Expected alphabetical tie-break, got %s, %s, %s",
			ranked[0].ConnectorType, ranked[1].ConnectorType, ranked[2].ConnectorType)
	}
	if ranked[0].RiskScore != ranked[2].RiskScore {
		t.Errorf("Expected equal scores, got %f and %f", ranked[0].RiskScore, ranked[2].RiskScore)
	}
}

func TestRankOrdering(t *testing.T) {
	t.Parallel()
	ranked := Rank([]ConnectorRecord{
		record("healthy", domain.ConnectorQueueSummary{Delivered: 20, DeliverySuccessRate: 1.0}),
		record("backlogged", domain.ConnectorQueueSummary{
			Queued: 50, Retrying: 25, DueNow: 40, Delivered: 10, DeliverySuccessRate: 0.8,
		}),
		record("failing", domain.ConnectorQueueSummary{
			DeadLettered: 5, Retrying: 10, Delivered: 2, DeliverySuccessRate: 0.1,
		}),
	})

	want := []string{"failing", "backlogged", "healthy"}
	for i, name := range want {
		if ranked[i].ConnectorType != name {
			t.Errorf("Expected %s at rank %d, got %s", name, i, ranked[i].ConnectorType)
		}
	}
	if ranked[2].RiskScore != 0 {
		t.Errorf("Expected healthy connector to score 0, got %f", ranked[2].RiskScore)
	}
}
