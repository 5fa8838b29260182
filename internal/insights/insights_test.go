package insights

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
)

func newDelivery(status domain.DeliveryStatus, attemptCount int, createdAt time.Time) *domain.ConnectorDelivery {
	return &domain.ConnectorDelivery{
		ID:            uuid.New(),
		ProjectID:     uuid.New(),
		ConnectorType: "webhook",
		PayloadHash:   "hash",
		Status:        status,
		AttemptCount:  attemptCount,
		MaxAttempts:   8,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func newAttempt(deliveryID uuid.UUID, statusCode int, errMsg string) *domain.ConnectorDeliveryAttempt {
	var code *int
	if statusCode != 0 {
		code = &statusCode
	}
	return &domain.ConnectorDeliveryAttempt{
		ID:         uuid.New(),
		DeliveryID: deliveryID,
		StatusCode: code,
		Error:      errMsg,
	}
}

func TestComputeEmptyWindow(t *testing.T) {
	t.Parallel() // Enable parallel execution
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	result := Compute(nil, nil, 24, now)

	if result.DeliveryCount != 0 {
		t.Errorf("Expected empty window, got %d deliveries", result.DeliveryCount)
	}
	if result.DeliverySuccessRate != 0 || result.AttemptSuccessRate != 0 || result.AvgAttemptsPerDelivery != 0 {
		t.Error("Expected all rates to be 0 for an empty window")
	}
	if len(result.TopErrors) != 0 {
		t.Errorf("Expected no top errors, got %v", result.TopErrors)
	}
	wantStart := now.Add(-24 * time.Hour)
	if !result.WindowStart.Equal(wantStart) {
		t.Errorf("Expected window start %v, got %v", wantStart, result.WindowStart)
	}
}

func TestComputeWindowFiltering(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	inside := newDelivery(domain.DeliveryStatusDelivered, 1, now.Add(-time.Hour))
	atStart := newDelivery(domain.DeliveryStatusDelivered, 1, now.Add(-24*time.Hour))
	tooOld := newDelivery(domain.DeliveryStatusDelivered, 1, now.Add(-24*time.Hour-time.Second))
	atNow := newDelivery(domain.DeliveryStatusDelivered, 1, now)

	result := Compute(
		[]*domain.ConnectorDelivery{inside, atStart, tooOld, atNow},
		nil, 24, now,
	)

	// Window is [now - lookback, now): start inclusive, end exclusive
	if result.DeliveryCount != 2 {
		t.Errorf("Expected 2 deliveries inside the window, got %d", result.DeliveryCount)
	}
}

func TestComputeRatesAndAttempts(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	createdAt := now.Add(-time.Hour)

	delivered := newDelivery(domain.DeliveryStatusDelivered, 2, createdAt)
	retrying := newDelivery(domain.DeliveryStatusRetrying, 3, createdAt)
	deadLettered := newDelivery(domain.DeliveryStatusDeadLettered, 8, createdAt)
	deadLettered.DeadLetterReason = "attempts exhausted"

	attempts := map[uuid.UUID][]*domain.ConnectorDeliveryAttempt{
		delivered.ID: {
			newAttempt(delivered.ID, 503, "upstream unavailable"),
			newAttempt(delivered.ID, 200, ""),
		},
		retrying.ID: {
			newAttempt(retrying.ID, 429, "rate limited"),
			newAttempt(retrying.ID, 429, "rate limited"),
		},
	}

	result := Compute(
		[]*domain.ConnectorDelivery{delivered, retrying, deadLettered},
		attempts, 24, now,
	)

	if result.DeliveryCount != 3 {
		t.Fatalf("Expected 3 deliveries, got %d", result.DeliveryCount)
	}
	if result.StatusCounts[domain.DeliveryStatusDelivered] != 1 ||
		result.StatusCounts[domain.DeliveryStatusRetrying] != 1 ||
		result.StatusCounts[domain.DeliveryStatusDeadLettered] != 1 {
		t.Errorf("Unexpected status counts: %v", result.StatusCounts)
	}

	wantSuccess := 1.0 / 3.0
	if result.DeliverySuccessRate != wantSuccess {
		t.Errorf("Expected delivery success rate %f, got %f", wantSuccess, result.DeliverySuccessRate)
	}
	if result.AttemptSuccessRate != 0.25 {
		t.Errorf("Expected attempt success rate 0.25, got %f", result.AttemptSuccessRate)
	}
	wantAvg := (2.0 + 3.0 + 8.0) / 3.0
	if result.AvgAttemptsPerDelivery != wantAvg {
		t.Errorf("Expected avg attempts %f, got %f", wantAvg, result.AvgAttemptsPerDelivery)
	}
	if result.MaxAttemptsObserved != 8 {
		t.Errorf("Expected max attempts observed 8, got %d", result.MaxAttemptsObserved)
	}
}

func TestComputeTopErrors(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	createdAt := now.Add(-time.Hour)

	d := newDelivery(domain.DeliveryStatusRetrying, 3, createdAt)
	var attemptList []*domain.ConnectorDeliveryAttempt

	// Seven distinct error messages: "err-0" occurs 3 times, "err-1" and
	// "tied" occur twice each in that first-seen order, the rest once.
	for i := 0; i < 3; i++ {
		attemptList = append(attemptList, newAttempt(d.ID, 500, "err-0"))
	}
	attemptList = append(attemptList, newAttempt(d.ID, 500, "err-1"))
	attemptList = append(attemptList, newAttempt(d.ID, 500, "tied"))
	attemptList = append(attemptList, newAttempt(d.ID, 500, "err-1"))
	attemptList = append(attemptList, newAttempt(d.ID, 500, "tied"))
	for i := 2; i < 6; i++ {
		attemptList = append(attemptList, newAttempt(d.ID, 500, fmt.Sprintf("rare-%d", i)))
	}

	result := Compute(
		[]*domain.ConnectorDelivery{d},
		map[uuid.UUID][]*domain.ConnectorDeliveryAttempt{d.ID: attemptList},
		24, now,
	)

	if len(result.TopErrors) != 5 {
		t.Fatalf("Expected top errors truncated to 5, got %d", len(result.TopErrors))
	}
	if result.TopErrors[0].Error != "err-0" || result.TopErrors[0].Count != 3 {
		t.Errorf("Expected err-0 x3 first, got %+v", result.TopErrors[0])
	}
	// Tie between err-1 and tied broken by first-seen order
	if result.TopErrors[1].Error != "err-1" || result.TopErrors[2].Error != "tied" {
		t.Errorf("Expected first-seen tie-break err-1 then tied, got %+v", result.TopErrors[1:3])
	}
}

func TestSummarizeOutcomes(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	// Current window [00:00, 12:00): one delivered, one dead lettered.
	// Baseline window [2026-02-20 12:00, 2026-02-21 00:00): one delivered.
	currentDelivered := newDelivery(domain.DeliveryStatusDelivered, 1, now.Add(-2*time.Hour))
	currentDead := newDelivery(domain.DeliveryStatusDeadLettered, 8, now.Add(-3*time.Hour))
	baselineDelivered := newDelivery(domain.DeliveryStatusDelivered, 1, now.Add(-14*time.Hour))

	summary := SummarizeOutcomes(
		[]*domain.ConnectorDelivery{currentDelivered, currentDead, baselineDelivered},
		12, now,
	)

	if summary.Current.TotalDeliveries != 2 || summary.Current.Delivered != 1 || summary.Current.DeadLettered != 1 {
		t.Errorf("Unexpected current window: %+v", summary.Current)
	}
	if summary.Current.DeliverySuccessRate != 0.5 || summary.Current.DeadLetterRate != 0.5 {
		t.Errorf("Expected current rates 0.5/0.5, got %f/%f",
			summary.Current.DeliverySuccessRate, summary.Current.DeadLetterRate)
	}

	if summary.Baseline.TotalDeliveries != 1 || summary.Baseline.Delivered != 1 {
		t.Errorf("Unexpected baseline window: %+v", summary.Baseline)
	}
	if summary.Baseline.DeliverySuccessRate != 1.0 {
		t.Errorf("Expected baseline success rate 1.0, got %f", summary.Baseline.DeliverySuccessRate)
	}

	if summary.Delta.DeadLettered != 1 {
		t.Errorf("Expected dead letter delta 1, got %d", summary.Delta.DeadLettered)
	}
	if summary.Delta.DeliverySuccessRate != -0.5 {
		t.Errorf("Expected success rate delta -0.5, got %f", summary.Delta.DeliverySuccessRate)
	}
	if summary.Delta.TotalDeliveries != 1 {
		t.Errorf("Expected total delta 1, got %d", summary.Delta.TotalDeliveries)
	}
}

func TestSummarizeOutcomesDisjointWindows(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	// Exactly on the current-window start: belongs to current, not baseline
	boundary := newDelivery(domain.DeliveryStatusDelivered, 1, now.Add(-12*time.Hour))
	// Before the baseline window: counted nowhere
	ancient := newDelivery(domain.DeliveryStatusDelivered, 1, now.Add(-25*time.Hour))

	summary := SummarizeOutcomes([]*domain.ConnectorDelivery{boundary, ancient}, 12, now)

	if summary.Current.TotalDeliveries != 1 {
		t.Errorf("Expected boundary delivery in current window, got %d", summary.Current.TotalDeliveries)
	}
	if summary.Baseline.TotalDeliveries != 0 {
		t.Errorf("Expected empty baseline, got %d", summary.Baseline.TotalDeliveries)
	}
	if summary.Baseline.DeliverySuccessRate != 0 {
		t.Errorf("Expected baseline rate 0 when empty, got %f", summary.Baseline.DeliverySuccessRate)
	}
}
