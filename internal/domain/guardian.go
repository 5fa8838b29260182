package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GuardianPolicy governs how much autonomy the guardian controller has for a
// project. Unlike the backpressure policy it is freely mutable.
type GuardianPolicy struct {
	ProjectID            uuid.UUID `json:"project_id"`
	IsEnabled            bool      `json:"is_enabled"`
	LookbackHours        int       `json:"lookback_hours"`
	RiskThreshold        float64   `json:"risk_threshold"`
	MaxActionsPerProject int       `json:"max_actions_per_project"`
	ActionLimit          int       `json:"action_limit"`
	CooldownMinutes      int       `json:"cooldown_minutes"`
	MinDeadLetterMinutes int       `json:"min_dead_letter_minutes"`
	AllowProcessQueue    bool      `json:"allow_process_queue"`
	AllowRedrive         bool      `json:"allow_redrive_dead_letters"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// GuardianDefaults carries the initial guardian-policy values, threaded
// explicitly through constructors.
type GuardianDefaults struct {
	IsEnabled            bool
	LookbackHours        int
	RiskThreshold        float64
	MaxActionsPerProject int
	ActionLimit          int
	CooldownMinutes      int
	MinDeadLetterMinutes int
	AllowProcessQueue    bool
	AllowRedrive         bool
}

// NewGuardianPolicy creates the guardian policy for a project from defaults.
func NewGuardianPolicy(projectID uuid.UUID, defaults GuardianDefaults) *GuardianPolicy {
	now := time.Now().UTC()
	return &GuardianPolicy{
		ProjectID:            projectID,
		IsEnabled:            defaults.IsEnabled,
		LookbackHours:        defaults.LookbackHours,
		RiskThreshold:        defaults.RiskThreshold,
		MaxActionsPerProject: defaults.MaxActionsPerProject,
		ActionLimit:          defaults.ActionLimit,
		CooldownMinutes:      defaults.CooldownMinutes,
		MinDeadLetterMinutes: defaults.MinDeadLetterMinutes,
		AllowProcessQueue:    defaults.AllowProcessQueue,
		AllowRedrive:         defaults.AllowRedrive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Validate checks the guardian policy's numeric fields.
func (p *GuardianPolicy) Validate() error {
	if p.ProjectID == uuid.Nil {
		return ErrInvalidID
	}
	if p.LookbackHours <= 0 {
		return fmt.Errorf("%w: lookback_hours %d", ErrPolicyFieldOutOfRange, p.LookbackHours)
	}
	if p.RiskThreshold < 0 {
		return fmt.Errorf("%w: risk_threshold %f", ErrPolicyFieldOutOfRange, p.RiskThreshold)
	}
	if p.MaxActionsPerProject < 0 {
		return fmt.Errorf("%w: max_actions_per_project %d", ErrPolicyFieldOutOfRange, p.MaxActionsPerProject)
	}
	if p.ActionLimit < 0 {
		return fmt.Errorf("%w: action_limit %d", ErrPolicyFieldOutOfRange, p.ActionLimit)
	}
	if p.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldown_minutes %d", ErrPolicyFieldOutOfRange, p.CooldownMinutes)
	}
	if p.MinDeadLetterMinutes < 0 {
		return fmt.Errorf("%w: min_dead_letter_minutes %d", ErrPolicyFieldOutOfRange, p.MinDeadLetterMinutes)
	}
	return nil
}

// ConnectorQueueSummary is a point-in-time snapshot of one connector's queue
// pressure. Derived from the store, never persisted.
type ConnectorQueueSummary struct {
	ConnectorType       string  `json:"connector_type"`
	Queued              int     `json:"queued"`
	Retrying            int     `json:"retrying"`
	DueNow              int     `json:"due_now"`
	DeadLettered        int     `json:"dead_lettered"`
	Delivered           int     `json:"delivered"`
	DeliverySuccessRate float64 `json:"delivery_success_rate"`
}
