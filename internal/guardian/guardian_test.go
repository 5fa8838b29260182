package guardian

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflux/courier-api/internal/ranking"
)

func ranked(connectorType string, score float64, rec ranking.Recommendation) ranking.RankedConnector {
	return ranking.RankedConnector{
		ConnectorType:  connectorType,
		RiskScore:      score,
		Recommendation: rec,
		RiskReasons:    []string{ranking.ReasonDeadLettersPresent},
	}
}

func TestSelectActionsThreshold(t *testing.T) {
	t.Parallel()
	connectors := []ranking.RankedConnector{
		ranked("hot", 80, ranking.RecommendationRedriveDeadLetters),
		ranked("warm", 59.9, ranking.RecommendationRedriveDeadLetters),
		ranked("calm", 0, ranking.RecommendationHealthy),
	}

	actions := SelectActions(connectors, 60, 10, true, true)

	require.Len(t, actions, 1)
	assert.Equal(t, "hot", actions[0].ConnectorType)
	assert.Equal(t, ActionRedriveDeadLetters, actions[0].Kind)
	assert.Equal(t, 80.0, actions[0].RiskScore)
}

func TestSelectActionsQuota(t *testing.T) {
	t.Parallel()
	connectors := []ranking.RankedConnector{
		ranked("a", 70, ranking.RecommendationRedriveDeadLetters),
		ranked("b", 90, ranking.RecommendationRedriveDeadLetters),
		ranked("c", 80, ranking.RecommendationProcessQueue),
	}

	actions := SelectActions(connectors, 60, 2, true, true)

	// Highest risk first, cut off at the quota
	require.Len(t, actions, 2)
	assert.Equal(t, "b", actions[0].ConnectorType)
	assert.Equal(t, "c", actions[1].ConnectorType)
}

func TestSelectActionsAllowList(t *testing.T) {
	t.Parallel()
	connectors := []ranking.RankedConnector{
		ranked("redrive-me", 90, ranking.RecommendationRedriveDeadLetters),
		ranked("drain-me", 80, ranking.RecommendationProcessQueue),
	}

	actions := SelectActions(connectors, 60, 10, true, false)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionProcessQueue, actions[0].Kind)

	actions = SelectActions(connectors, 60, 10, false, true)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRedriveDeadLetters, actions[0].Kind)

	actions = SelectActions(connectors, 60, 10, false, false)
	assert.Empty(t, actions)
}

func TestSelectActionsHealthyNeverActed(t *testing.T) {
	t.Parallel()
	// A healthy connector is skipped even with a huge score and zero threshold
	connectors := []ranking.RankedConnector{
		ranked("fine", 100, ranking.RecommendationHealthy),
	}

	actions := SelectActions(connectors, 0, 10, true, true)
	assert.Empty(t, actions)
}

func TestApplyCooldownSkipsRecentActions(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	actions := []Action{
		{ConnectorType: "recent", Kind: ActionRedriveDeadLetters, RiskScore: 90},
		{ConnectorType: "stale", Kind: ActionProcessQueue, RiskScore: 70},
		{ConnectorType: "never", Kind: ActionProcessQueue, RiskScore: 65},
	}
	lastActionAt := map[string]time.Time{
		"recent": now.Add(-10 * time.Minute),
		"stale":  now.Add(-2 * time.Hour),
	}

	eligible, skipped := ApplyCooldown(actions, lastActionAt, 60, now)

	require.Len(t, eligible, 2)
	assert.Equal(t, "stale", eligible[0].ConnectorType)
	assert.Equal(t, "never", eligible[1].ConnectorType)

	// 60 minute cooldown, last action 10 minutes ago: eligible again in 50
	// minutes, reported as 3000 seconds.
	require.Len(t, skipped, 1)
	assert.Equal(t, "recent", skipped[0].Action.ConnectorType)
	assert.Equal(t, int64(3000), skipped[0].RetryAfterSeconds)
}

func TestApplyCooldownBoundary(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actions := []Action{{ConnectorType: "edge", Kind: ActionProcessQueue}}

	// Exactly at the cooldown boundary counts as eligible
	eligible, skipped := ApplyCooldown(actions,
		map[string]time.Time{"edge": now.Add(-60 * time.Minute)}, 60, now)
	assert.Len(t, eligible, 1)
	assert.Empty(t, skipped)
}

func TestApplyCooldownDisabled(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	actions := []Action{{ConnectorType: "recent", Kind: ActionRedriveDeadLetters}}
	lastActionAt := map[string]time.Time{"recent": now.Add(-time.Second)}

	// cooldown=0 disables the filter entirely
	eligible, skipped := ApplyCooldown(actions, lastActionAt, 0, now)
	assert.Len(t, eligible, 1)
	assert.Empty(t, skipped)
}
