package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bounds for backpressure policy numeric fields. Values outside these ranges
// are rejected, never clamped.
const (
	MinDrainCap = 1
	MaxDrainCap = 10000
	MinMinLimit = 1
	MaxMinLimit = 100
)

// ConnectorOverride narrows the project-wide backpressure policy for a single
// connector type. A missing override falls back to the project default.
type ConnectorOverride struct {
	IsEnabled   bool `json:"is_enabled"`
	MaxRetrying int  `json:"max_retrying"`
	MaxDueNow   int  `json:"max_due_now"`
	MinLimit    int  `json:"min_limit"`
}

// Validate checks the override's numeric bounds.
func (o ConnectorOverride) Validate() error {
	if o.MaxRetrying < MinDrainCap || o.MaxRetrying > MaxDrainCap {
		return fmt.Errorf("%w: max_retrying %d", ErrPolicyFieldOutOfRange, o.MaxRetrying)
	}
	if o.MaxDueNow < MinDrainCap || o.MaxDueNow > MaxDrainCap {
		return fmt.Errorf("%w: max_due_now %d", ErrPolicyFieldOutOfRange, o.MaxDueNow)
	}
	if o.MinLimit < MinMinLimit || o.MinLimit > MaxMinLimit {
		return fmt.Errorf("%w: min_limit %d", ErrPolicyFieldOutOfRange, o.MinLimit)
	}
	return nil
}

// BackpressurePolicy is the live drain policy for a project. One per project;
// mutated only through the draft apply step, never edited directly.
type BackpressurePolicy struct {
	ProjectID          uuid.UUID                    `json:"project_id"`
	IsEnabled          bool                         `json:"is_enabled"`
	MaxRetrying        int                          `json:"max_retrying"`
	MaxDueNow          int                          `json:"max_due_now"`
	MinLimit           int                          `json:"min_limit"`
	ConnectorOverrides map[string]ConnectorOverride `json:"connector_overrides,omitempty"`
	CreatedAt          time.Time                    `json:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at"`
}

// PolicyDefaults carries the initial live-policy values. Threaded explicitly
// through constructors rather than read from package-level globals.
type PolicyDefaults struct {
	IsEnabled   bool
	MaxRetrying int
	MaxDueNow   int
	MinLimit    int
}

// NewBackpressurePolicy creates the live policy for a project from the
// supplied defaults.
func NewBackpressurePolicy(projectID uuid.UUID, defaults PolicyDefaults) *BackpressurePolicy {
	now := time.Now().UTC()
	return &BackpressurePolicy{
		ProjectID:   projectID,
		IsEnabled:   defaults.IsEnabled,
		MaxRetrying: defaults.MaxRetrying,
		MaxDueNow:   defaults.MaxDueNow,
		MinLimit:    defaults.MinLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// OverrideFor returns the effective caps for a connector type, falling back
// to the project-wide values when no override exists.
func (p *BackpressurePolicy) OverrideFor(connectorType string) ConnectorOverride {
	if o, ok := p.ConnectorOverrides[connectorType]; ok {
		return o
	}
	return ConnectorOverride{
		IsEnabled:   p.IsEnabled,
		MaxRetrying: p.MaxRetrying,
		MaxDueNow:   p.MaxDueNow,
		MinLimit:    p.MinLimit,
	}
}

// BackpressurePolicyPatch is a sparse partial update of the live policy.
// Pointer fields distinguish "field absent" from "field explicitly set",
// so a draft can deliberately set is_enabled=false or leave it untouched.
type BackpressurePolicyPatch struct {
	IsEnabled          *bool                        `json:"is_enabled,omitempty"`
	MaxRetrying        *int                         `json:"max_retrying,omitempty"`
	MaxDueNow          *int                         `json:"max_due_now,omitempty"`
	MinLimit           *int                         `json:"min_limit,omitempty"`
	ConnectorOverrides map[string]ConnectorOverride `json:"connector_overrides,omitempty"`
}

// IsZero reports whether the patch carries no fields at all.
func (p BackpressurePolicyPatch) IsZero() bool {
	return p.IsEnabled == nil &&
		p.MaxRetrying == nil &&
		p.MaxDueNow == nil &&
		p.MinLimit == nil &&
		p.ConnectorOverrides == nil
}

// Validate checks every present field against the policy bounds.
func (p BackpressurePolicyPatch) Validate() error {
	if p.MaxRetrying != nil && (*p.MaxRetrying < MinDrainCap || *p.MaxRetrying > MaxDrainCap) {
		return fmt.Errorf("%w: max_retrying %d", ErrPolicyFieldOutOfRange, *p.MaxRetrying)
	}
	if p.MaxDueNow != nil && (*p.MaxDueNow < MinDrainCap || *p.MaxDueNow > MaxDrainCap) {
		return fmt.Errorf("%w: max_due_now %d", ErrPolicyFieldOutOfRange, *p.MaxDueNow)
	}
	if p.MinLimit != nil && (*p.MinLimit < MinMinLimit || *p.MinLimit > MaxMinLimit) {
		return fmt.Errorf("%w: min_limit %d", ErrPolicyFieldOutOfRange, *p.MinLimit)
	}
	for connectorType, override := range p.ConnectorOverrides {
		if err := override.Validate(); err != nil {
			return fmt.Errorf("override %q: %w", connectorType, err)
		}
	}
	return nil
}

// Merge overlays another patch onto this one, keeping untouched fields.
// Used when a draft is amended.
func (p BackpressurePolicyPatch) Merge(other BackpressurePolicyPatch) BackpressurePolicyPatch {
	merged := p
	if other.IsEnabled != nil {
		merged.IsEnabled = other.IsEnabled
	}
	if other.MaxRetrying != nil {
		merged.MaxRetrying = other.MaxRetrying
	}
	if other.MaxDueNow != nil {
		merged.MaxDueNow = other.MaxDueNow
	}
	if other.MinLimit != nil {
		merged.MinLimit = other.MinLimit
	}
	if other.ConnectorOverrides != nil {
		if merged.ConnectorOverrides == nil {
			merged.ConnectorOverrides = make(map[string]ConnectorOverride, len(other.ConnectorOverrides))
		} else {
			copied := make(map[string]ConnectorOverride, len(merged.ConnectorOverrides))
			for k, v := range merged.ConnectorOverrides {
				copied[k] = v
			}
			merged.ConnectorOverrides = copied
		}
		for k, v := range other.ConnectorOverrides {
			merged.ConnectorOverrides[k] = v
		}
	}
	return merged
}

// ApplyTo copies only the present patch fields onto the live policy.
func (p BackpressurePolicyPatch) ApplyTo(policy *BackpressurePolicy) {
	if p.IsEnabled != nil {
		policy.IsEnabled = *p.IsEnabled
	}
	if p.MaxRetrying != nil {
		policy.MaxRetrying = *p.MaxRetrying
	}
	if p.MaxDueNow != nil {
		policy.MaxDueNow = *p.MaxDueNow
	}
	if p.MinLimit != nil {
		policy.MinLimit = *p.MinLimit
	}
	if p.ConnectorOverrides != nil {
		if policy.ConnectorOverrides == nil {
			policy.ConnectorOverrides = make(map[string]ConnectorOverride, len(p.ConnectorOverrides))
		}
		for k, v := range p.ConnectorOverrides {
			policy.ConnectorOverrides[k] = v
		}
	}
	policy.UpdatedAt = time.Now().UTC()
}

// PolicyApproval records one actor's sign-off on a draft.
type PolicyApproval struct {
	Actor      string    `json:"actor"`
	ApprovedAt time.Time `json:"approved_at"`
}

// BackpressurePolicyDraft is a proposed, not-yet-active policy amendment.
// At most one exists per project.
type BackpressurePolicyDraft struct {
	ProjectID         uuid.UUID               `json:"project_id"`
	Patch             BackpressurePolicyPatch `json:"patch"`
	RequiredApprovals int                     `json:"required_approvals"`
	Approvals         []PolicyApproval        `json:"approvals"`
	ActivateAt        *time.Time              `json:"activate_at,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// HasApprovalFrom reports whether the actor has already approved the draft.
func (d *BackpressurePolicyDraft) HasApprovalFrom(actor string) bool {
	for _, a := range d.Approvals {
		if a.Actor == actor {
			return true
		}
	}
	return false
}

// ApprovalsRemaining returns how many more distinct approvals the draft needs.
func (d *BackpressurePolicyDraft) ApprovalsRemaining() int {
	remaining := d.RequiredApprovals - len(d.Approvals)
	if remaining < 0 {
		return 0
	}
	return remaining
}
