package insights

import (
	"time"

	"github.com/docuflux/courier-api/internal/domain"
)

// WindowStats reports one contiguous window of delivery outcomes.
type WindowStats struct {
	TotalDeliveries     int     `json:"total_deliveries"`
	Delivered           int     `json:"delivered"`
	DeadLettered        int     `json:"dead_lettered"`
	DeliverySuccessRate float64 `json:"delivery_success_rate"`
	DeadLetterRate      float64 `json:"dead_letter_rate"`
}

// WindowDelta is the field-by-field difference between two windows.
// Counts and rates alike; any field may be negative.
type WindowDelta struct {
	TotalDeliveries     int     `json:"total_deliveries"`
	Delivered           int     `json:"delivered"`
	DeadLettered        int     `json:"dead_lettered"`
	DeliverySuccessRate float64 `json:"delivery_success_rate"`
	DeadLetterRate      float64 `json:"dead_letter_rate"`
}

// OutcomeSummary compares the current window against the immediately
// preceding baseline window of equal length.
type OutcomeSummary struct {
	Current  WindowStats `json:"current"`
	Baseline WindowStats `json:"baseline"`
	Delta    WindowDelta `json:"delta"`
}

// SummarizeOutcomes partitions deliveries into two disjoint, contiguous,
// equal-length windows: current ending at now and baseline immediately
// preceding it. Bucketing keys on each delivery's creation timestamp, since
// dead-lettered deliveries never populate a completion timestamp and
// creation time is the only universally present field. Pure, read-only.
func SummarizeOutcomes(
	deliveries []*domain.ConnectorDelivery,
	lookbackHours int,
	now time.Time,
) OutcomeSummary {
	window := time.Duration(lookbackHours) * time.Hour
	currentStart := now.Add(-window)
	baselineStart := currentStart.Add(-window)

	var current, baseline WindowStats

	for _, d := range deliveries {
		switch {
		case !d.CreatedAt.Before(currentStart) && d.CreatedAt.Before(now):
			accumulate(&current, d)
		case !d.CreatedAt.Before(baselineStart) && d.CreatedAt.Before(currentStart):
			accumulate(&baseline, d)
		}
	}

	finalizeRates(&current)
	finalizeRates(&baseline)

	return OutcomeSummary{
		Current:  current,
		Baseline: baseline,
		Delta: WindowDelta{
			TotalDeliveries:     current.TotalDeliveries - baseline.TotalDeliveries,
			Delivered:           current.Delivered - baseline.Delivered,
			DeadLettered:        current.DeadLettered - baseline.DeadLettered,
			DeliverySuccessRate: current.DeliverySuccessRate - baseline.DeliverySuccessRate,
			DeadLetterRate:      current.DeadLetterRate - baseline.DeadLetterRate,
		},
	}
}

func accumulate(w *WindowStats, d *domain.ConnectorDelivery) {
	w.TotalDeliveries++
	switch d.Status {
	case domain.DeliveryStatusDelivered:
		w.Delivered++
	case domain.DeliveryStatusDeadLettered:
		w.DeadLettered++
	}
}

func finalizeRates(w *WindowStats) {
	if w.TotalDeliveries == 0 {
		return
	}
	w.DeliverySuccessRate = float64(w.Delivered) / float64(w.TotalDeliveries)
	w.DeadLetterRate = float64(w.DeadLettered) / float64(w.TotalDeliveries)
}
