// Package insights computes delivery health metrics over time windows.
// Everything in this package is a pure function over point-in-time snapshots:
// no store access, no clocks, no side effects.
package insights

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/domain"
)

// topErrorLimit caps how many distinct error messages appear in TopErrors.
const topErrorLimit = 5

// ErrorFrequency is one distinct error message and how often it occurred.
type ErrorFrequency struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// ConnectorInsights aggregates a connector's delivery population into health
// metrics over a lookback window. Derived on demand, never persisted.
type ConnectorInsights struct {
	WindowStart            time.Time                     `json:"window_start"`
	DeliveryCount          int                           `json:"delivery_count"`
	StatusCounts           map[domain.DeliveryStatus]int `json:"status_counts"`
	DeliverySuccessRate    float64                       `json:"delivery_success_rate"`
	AttemptSuccessRate     float64                       `json:"attempt_success_rate"`
	AvgAttemptsPerDelivery float64                       `json:"avg_attempts_per_delivery"`
	MaxAttemptsObserved    int                           `json:"max_attempts_observed"`
	TopErrors              []ErrorFrequency              `json:"top_errors"`
}

// Compute filters deliveries created within [now - lookbackHours, now) and
// aggregates them. Rates are 0 when the window is empty. TopErrors ranks
// distinct attempt error messages by frequency descending, ties broken by
// first-seen order, truncated to five.
func Compute(
	deliveries []*domain.ConnectorDelivery,
	attemptsByDelivery map[uuid.UUID][]*domain.ConnectorDeliveryAttempt,
	lookbackHours int,
	now time.Time,
) ConnectorInsights {
	windowStart := now.Add(-time.Duration(lookbackHours) * time.Hour)

	result := ConnectorInsights{
		WindowStart:  windowStart,
		StatusCounts: make(map[domain.DeliveryStatus]int),
		TopErrors:    []ErrorFrequency{},
	}

	var (
		totalAttempts      int
		succeededAttempts  int
		attemptCountSum    int
		errorCounts        = make(map[string]int)
		errorFirstSeen     = make(map[string]int)
		nextFirstSeenIndex int
	)

	for _, d := range deliveries {
		if d.CreatedAt.Before(windowStart) || !d.CreatedAt.Before(now) {
			continue
		}

		result.DeliveryCount++
		result.StatusCounts[d.Status]++
		attemptCountSum += d.AttemptCount
		if d.AttemptCount > result.MaxAttemptsObserved {
			result.MaxAttemptsObserved = d.AttemptCount
		}

		for _, a := range attemptsByDelivery[d.ID] {
			totalAttempts++
			if a.Succeeded() {
				succeededAttempts++
			}
			if a.Error != "" {
				if _, seen := errorCounts[a.Error]; !seen {
					errorFirstSeen[a.Error] = nextFirstSeenIndex
					nextFirstSeenIndex++
				}
				errorCounts[a.Error]++
			}
		}
	}

	if result.DeliveryCount > 0 {
		delivered := result.StatusCounts[domain.DeliveryStatusDelivered]
		result.DeliverySuccessRate = float64(delivered) / float64(result.DeliveryCount)
		result.AvgAttemptsPerDelivery = float64(attemptCountSum) / float64(result.DeliveryCount)
	}
	if totalAttempts > 0 {
		result.AttemptSuccessRate = float64(succeededAttempts) / float64(totalAttempts)
	}

	result.TopErrors = rankErrors(errorCounts, errorFirstSeen)

	return result
}

// rankErrors orders error messages by frequency descending, ties by
// first-seen order, truncated to topErrorLimit.
func rankErrors(counts map[string]int, firstSeen map[string]int) []ErrorFrequency {
	ranked := make([]ErrorFrequency, 0, len(counts))
	for msg, count := range counts {
		ranked = append(ranked, ErrorFrequency{Error: msg, Count: count})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return firstSeen[ranked[i].Error] < firstSeen[ranked[j].Error]
	})

	if len(ranked) > topErrorLimit {
		ranked = ranked[:topErrorLimit]
	}
	return ranked
}
