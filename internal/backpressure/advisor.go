package backpressure

import (
	"sort"

	"github.com/docuflux/courier-api/internal/domain"
)

// PressureTier classifies a connector's queue pressure.
type PressureTier string

// Pressure tiers, worst first.
const (
	PressureHigh   PressureTier = "high"
	PressureMedium PressureTier = "medium"
	PressureLow    PressureTier = "low"
)

// PolicyRecommendation is the advisor's proposed project-wide policy values.
type PolicyRecommendation struct {
	Enabled     bool `json:"enabled"`
	MaxRetrying int  `json:"maxRetrying"`
	MaxDueNow   int  `json:"maxDueNow"`
	MinLimit    int  `json:"minLimit"`
}

// ConnectorSuggestion is the advisor's per-connector proposal.
type ConnectorSuggestion struct {
	ConnectorType string       `json:"connector_type"`
	PressureTier  PressureTier `json:"pressure_tier"`
	Retrying      int          `json:"retrying"`
	DueNow        int          `json:"due_now"`
	MaxRetrying   int          `json:"maxRetrying"`
	MaxDueNow     int          `json:"maxDueNow"`
	MinLimit      int          `json:"minLimit"`
}

// Suggestion bundles the aggregate recommendation with its per-connector
// inputs, sorted by descending pressure.
type Suggestion struct {
	Recommendation PolicyRecommendation  `json:"recommendation"`
	ByConnector    []ConnectorSuggestion `json:"by_connector"`
}

// Advisor proposes policy numbers from current queue pressure. The default
// caps it tiers against come from configuration, threaded in explicitly.
type Advisor struct {
	defaults domain.PolicyDefaults
}

// NewAdvisor creates an Advisor around the given policy defaults.
func NewAdvisor(defaults domain.PolicyDefaults) *Advisor {
	return &Advisor{defaults: defaults}
}

// Suggest proposes policy values from the per-connector summaries. Empty
// input yields the configured defaults unchanged. Per connector, caps double
// the observed backlog (never below the defaults) and min_limit tightens as
// the tier worsens. The aggregate takes the maximum cap across connectors so
// no connector is starved, and the minimum min_limit so the most restrictive
// floor wins.
func (a *Advisor) Suggest(summaries []domain.ConnectorQueueSummary) Suggestion {
	recommendation := PolicyRecommendation{
		Enabled:     true,
		MaxRetrying: a.defaults.MaxRetrying,
		MaxDueNow:   a.defaults.MaxDueNow,
		MinLimit:    a.defaults.MinLimit,
	}

	if len(summaries) == 0 {
		return Suggestion{
			Recommendation: recommendation,
			ByConnector:    []ConnectorSuggestion{},
		}
	}

	byConnector := make([]ConnectorSuggestion, 0, len(summaries))
	minLimit := 0

	for _, s := range summaries {
		tier := a.classify(s)

		suggestion := ConnectorSuggestion{
			ConnectorType: s.ConnectorType,
			PressureTier:  tier,
			Retrying:      s.Retrying,
			DueNow:        s.DueNow,
			MaxRetrying:   maxInt(a.defaults.MaxRetrying, s.Retrying*2),
			MaxDueNow:     maxInt(a.defaults.MaxDueNow, s.DueNow*2),
			MinLimit:      tierMinLimit(tier),
		}
		byConnector = append(byConnector, suggestion)

		if suggestion.MaxRetrying > recommendation.MaxRetrying {
			recommendation.MaxRetrying = suggestion.MaxRetrying
		}
		if suggestion.MaxDueNow > recommendation.MaxDueNow {
			recommendation.MaxDueNow = suggestion.MaxDueNow
		}
		if minLimit == 0 || suggestion.MinLimit < minLimit {
			minLimit = suggestion.MinLimit
		}
	}

	recommendation.MinLimit = minLimit

	sort.SliceStable(byConnector, func(i, j int) bool {
		ri, rj := tierRank(byConnector[i].PressureTier), tierRank(byConnector[j].PressureTier)
		if ri != rj {
			return ri > rj
		}
		return byConnector[i].Retrying+byConnector[i].DueNow >
			byConnector[j].Retrying+byConnector[j].DueNow
	})

	return Suggestion{Recommendation: recommendation, ByConnector: byConnector}
}

// classify tiers a connector against the default caps: high at or above
// either cap, medium at or above half of either, low below both.
func (a *Advisor) classify(s domain.ConnectorQueueSummary) PressureTier {
	switch {
	case s.Retrying >= a.defaults.MaxRetrying || s.DueNow >= a.defaults.MaxDueNow:
		return PressureHigh
	case s.Retrying >= a.defaults.MaxRetrying/2 || s.DueNow >= a.defaults.MaxDueNow/2:
		return PressureMedium
	default:
		return PressureLow
	}
}

func tierMinLimit(tier PressureTier) int {
	switch tier {
	case PressureHigh:
		return 1
	case PressureMedium:
		return 2
	default:
		return 3
	}
}

func tierRank(tier PressureTier) int {
	switch tier {
	case PressureHigh:
		return 2
	case PressureMedium:
		return 1
	default:
		return 0
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
