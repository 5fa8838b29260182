// Package guardian turns ranked reliability signals into bounded remediation
// actions. Two-stage filtering (threshold/quota first, cooldown second)
// prevents flapping: a just-redriven connector cannot be re-flagged inside
// its cooldown window even if new dead letters accumulate.
package guardian

import (
	"sort"
	"time"

	"github.com/docuflux/courier-api/internal/ranking"
)

// ActionKind is the kind of remediation the guardian may take.
type ActionKind string

// Possible action kinds.
const (
	ActionRedriveDeadLetters ActionKind = "redrive_dead_letters"
	ActionProcessQueue       ActionKind = "process_queue"
)

// Action is one remediation the guardian intends to apply.
type Action struct {
	ConnectorType string     `json:"connector_type"`
	Kind          ActionKind `json:"kind"`
	RiskScore     float64    `json:"risk_score"`
	Reasons       []string   `json:"reasons"`
}

// SkippedAction is an action the cooldown filter removed, with the time
// until it becomes eligible again.
type SkippedAction struct {
	Action            Action `json:"action"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
}

// SelectActions walks the ranked connectors by risk descending and picks the
// remediation each one's recommendation calls for. Healthy connectors,
// sub-threshold scores, and disallowed action kinds are skipped; selection
// stops at maxActions.
func SelectActions(
	rankedConnectors []ranking.RankedConnector,
	riskThreshold float64,
	maxActions int,
	allowProcessQueue, allowRedriveDeadLetters bool,
) []Action {
	ordered := make([]ranking.RankedConnector, len(rankedConnectors))
	copy(ordered, rankedConnectors)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RiskScore > ordered[j].RiskScore
	})

	actions := []Action{}
	for _, rc := range ordered {
		if len(actions) >= maxActions {
			break
		}
		if rc.Recommendation == ranking.RecommendationHealthy {
			continue
		}
		if rc.RiskScore < riskThreshold {
			continue
		}

		var kind ActionKind
		switch rc.Recommendation {
		case ranking.RecommendationRedriveDeadLetters:
			if !allowRedriveDeadLetters {
				continue
			}
			kind = ActionRedriveDeadLetters
		case ranking.RecommendationProcessQueue:
			if !allowProcessQueue {
				continue
			}
			kind = ActionProcessQueue
		default:
			continue
		}

		actions = append(actions, Action{
			ConnectorType: rc.ConnectorType,
			Kind:          kind,
			RiskScore:     rc.RiskScore,
			Reasons:       rc.RiskReasons,
		})
	}

	return actions
}

// ApplyCooldown removes any action whose connector had a prior guardian
// action within cooldownMinutes, reporting the removals with the seconds
// until eligibility. cooldown=0 disables filtering entirely.
func ApplyCooldown(
	actions []Action,
	lastActionAtByConnector map[string]time.Time,
	cooldownMinutes int,
	now time.Time,
) (eligible []Action, skipped []SkippedAction) {
	eligible = []Action{}
	skipped = []SkippedAction{}

	if cooldownMinutes <= 0 {
		return append(eligible, actions...), skipped
	}

	cooldown := time.Duration(cooldownMinutes) * time.Minute
	for _, action := range actions {
		lastAt, ok := lastActionAtByConnector[action.ConnectorType]
		if !ok || now.Sub(lastAt) >= cooldown {
			eligible = append(eligible, action)
			continue
		}

		retryAfter := cooldown - now.Sub(lastAt)
		skipped = append(skipped, SkippedAction{
			Action:            action,
			RetryAfterSeconds: int64(retryAfter.Seconds()),
		})
	}

	return eligible, skipped
}
