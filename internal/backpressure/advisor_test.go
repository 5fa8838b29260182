package backpressure

import (
	"testing"

	"github.com/docuflux/courier-api/internal/domain"
)

func testAdvisor() *Advisor {
	return NewAdvisor(domain.PolicyDefaults{
		IsEnabled:   true,
		MaxRetrying: 50,
		MaxDueNow:   100,
		MinLimit:    1,
	})
}

func TestSuggestEmptyInput(t *testing.T) {
	t.Parallel() // Enable parallel execution
	suggestion := testAdvisor().Suggest(nil)

	want := PolicyRecommendation{Enabled: true, MaxRetrying: 50, MaxDueNow: 100, MinLimit: 1}
	if suggestion.Recommendation != want {
		t.Errorf("Expected defaults %+v, got %+v", want, suggestion.Recommendation)
	}
	if len(suggestion.ByConnector) != 0 {
		t.Errorf("Expected no per-connector suggestions, got %d", len(suggestion.ByConnector))
	}
}

func TestSuggestTiering(t *testing.T) {
	t.Parallel()
	advisor := testAdvisor()

	tests := []struct {
		name     string
		summary  domain.ConnectorQueueSummary
		wantTier PressureTier
		wantMin  int
	}{
		{
			name:     "low pressure below half caps",
			summary:  domain.ConnectorQueueSummary{ConnectorType: "a", Retrying: 10, DueNow: 20},
			wantTier: PressureLow,
			wantMin:  3,
		},
		{
			name:     "medium at half the retrying cap",
			summary:  domain.ConnectorQueueSummary{ConnectorType: "b", Retrying: 25, DueNow: 0},
			wantTier: PressureMedium,
			wantMin:  2,
		},
		{
			name:     "medium at half the due cap",
			summary:  domain.ConnectorQueueSummary{ConnectorType: "c", Retrying: 0, DueNow: 50},
			wantTier: PressureMedium,
			wantMin:  2,
		},
		{
			name:     "high at the retrying cap",
			summary:  domain.ConnectorQueueSummary{ConnectorType: "d", Retrying: 50, DueNow: 0},
			wantTier: PressureHigh,
			wantMin:  1,
		},
		{
			name:     "high above the due cap",
			summary:  domain.ConnectorQueueSummary{ConnectorType: "e", Retrying: 0, DueNow: 150},
			wantTier: PressureHigh,
			wantMin:  1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			suggestion := advisor.Suggest([]domain.ConnectorQueueSummary{tc.summary})
			got := suggestion.ByConnector[0]
			if got.PressureTier != tc.wantTier {
				t.Errorf("Expected tier %s, got %s", tc.wantTier, got.PressureTier)
			}
			if got.MinLimit != tc.wantMin {
				t.Errorf("Expected min limit %d, got %d", tc.wantMin, got.MinLimit)
			}
		})
	}
}

func TestSuggestCapsDoubleObservedBacklog(t *testing.T) {
	t.Parallel()
	suggestion := testAdvisor().Suggest([]domain.ConnectorQueueSummary{
		{ConnectorType: "webhook", Retrying: 80, DueNow: 10},
	})

	got := suggestion.ByConnector[0]
	if got.MaxRetrying != 160 {
		t.Errorf("Expected max_retrying doubled to 160, got %d", got.MaxRetrying)
	}
	// Doubling never drops below the configured default
	if got.MaxDueNow != 100 {
		t.Errorf("Expected max_due_now held at default 100, got %d", got.MaxDueNow)
	}
}

func TestSuggestAggregate(t *testing.T) {
	t.Parallel()
	suggestion := testAdvisor().Suggest([]domain.ConnectorQueueSummary{
		{ConnectorType: "calm", Retrying: 5, DueNow: 5},
		{ConnectorType: "hot", Retrying: 100, DueNow: 200},
		{ConnectorType: "warm", Retrying: 30, DueNow: 10},
	})

	rec := suggestion.Recommendation
	// Maximum cap across connectors, minimum min_limit
	if rec.MaxRetrying != 200 {
		t.Errorf("Expected aggregate max_retrying 200, got %d", rec.MaxRetrying)
	}
	if rec.MaxDueNow != 400 {
		t.Errorf("Expected aggregate max_due_now 400, got %d", rec.MaxDueNow)
	}
	if rec.MinLimit != 1 {
		t.Errorf("Expected aggregate min_limit 1 from the high tier, got %d", rec.MinLimit)
	}
	if !rec.Enabled {
		t.Error("Expected recommendation enabled")
	}

	// Sorted by tier descending, then pressure sum
	want := []string{"hot", "warm", "calm"}
	for i, name := range want {
		if suggestion.ByConnector[i].ConnectorType != name {
			t.Errorf("Expected %s at position %d, got %s", name, i, suggestion.ByConnector[i].ConnectorType)
		}
	}
}
