// Package events defines the audit event record and its typed payloads.
// Payloads travel as untyped JSON on the wire and in the audit table; Decode
// maps them onto a known variant per event type, falling back to an explicit
// unrecognized variant rather than guessing.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what kind of audit event occurred.
type EventType string

// Known audit event types.
const (
	EventTypeDeliveryEnqueued   EventType = "delivery_enqueued"
	EventTypeDeliveryDeadLetter EventType = "delivery_dead_lettered"
	EventTypeDraftUpserted      EventType = "policy_draft_upserted"
	EventTypeDraftApproved      EventType = "policy_draft_approved"
	EventTypePolicyApplied      EventType = "policy_applied"
	EventTypeGuardianUpdated    EventType = "guardian_policy_updated"
	EventTypeGuardianAction     EventType = "guardian_action"
)

// AuditEvent is one immutable entry in the audit log.
type AuditEvent struct {
	ID            uuid.UUID       `json:"id"`
	ProjectID     uuid.UUID       `json:"project_id"`
	Type          EventType       `json:"type"`
	Actor         string          `json:"actor"`
	ConnectorType string          `json:"connector_type,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewAuditEvent creates an audit event with the payload serialized to JSON.
func NewAuditEvent(
	projectID uuid.UUID,
	eventType EventType,
	actor, connectorType string,
	payload interface{},
) (*AuditEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &AuditEvent{
		ID:            uuid.New(),
		ProjectID:     projectID,
		Type:          eventType,
		Actor:         actor,
		ConnectorType: connectorType,
		Payload:       raw,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DeliveryEnqueuedPayload describes a delivery_enqueued event.
type DeliveryEnqueuedPayload struct {
	DeliveryID  uuid.UUID `json:"delivery_id"`
	PayloadHash string    `json:"payload_hash"`
	Duplicate   bool      `json:"duplicate"`
}

// DeliveryDeadLetterPayload describes a delivery_dead_lettered event.
type DeliveryDeadLetterPayload struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
}

// DraftUpsertedPayload describes a policy_draft_upserted event.
type DraftUpsertedPayload struct {
	RequiredApprovals int        `json:"required_approvals"`
	ActivateAt        *time.Time `json:"activate_at,omitempty"`
}

// DraftApprovedPayload describes a policy_draft_approved event.
type DraftApprovedPayload struct {
	ApprovalCount      int `json:"approval_count"`
	ApprovalsRemaining int `json:"approvals_remaining"`
}

// PolicyAppliedPayload describes a policy_applied event.
type PolicyAppliedPayload struct {
	MaxRetrying int `json:"max_retrying"`
	MaxDueNow   int `json:"max_due_now"`
	MinLimit    int `json:"min_limit"`
}

// GuardianUpdatedPayload describes a guardian_policy_updated event.
type GuardianUpdatedPayload struct {
	IsEnabled     bool    `json:"is_enabled"`
	RiskThreshold float64 `json:"risk_threshold"`
}

// GuardianActionPayload describes a guardian_action event.
type GuardianActionPayload struct {
	ActionKind string  `json:"action_kind"`
	RiskScore  float64 `json:"risk_score"`
	Succeeded  bool    `json:"succeeded"`
	Error      string  `json:"error,omitempty"`
}

// UnrecognizedPayload is the fallback variant for event types this build
// does not know, or payloads that fail to decode. The raw bytes are kept so
// nothing is lost.
type UnrecognizedPayload struct {
	Type EventType
	Raw  json.RawMessage
}

// Decode returns the typed payload for the event's type, or an
// UnrecognizedPayload when the type is unknown or the payload is malformed.
func (e *AuditEvent) Decode() interface{} {
	unmarshal := func(v interface{}) interface{} {
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return UnrecognizedPayload{Type: e.Type, Raw: e.Payload}
		}
		return v
	}

	if len(e.Payload) == 0 {
		return UnrecognizedPayload{Type: e.Type}
	}

	switch e.Type {
	case EventTypeDeliveryEnqueued:
		return unmarshal(&DeliveryEnqueuedPayload{})
	case EventTypeDeliveryDeadLetter:
		return unmarshal(&DeliveryDeadLetterPayload{})
	case EventTypeDraftUpserted:
		return unmarshal(&DraftUpsertedPayload{})
	case EventTypeDraftApproved:
		return unmarshal(&DraftApprovedPayload{})
	case EventTypePolicyApplied:
		return unmarshal(&PolicyAppliedPayload{})
	case EventTypeGuardianUpdated:
		return unmarshal(&GuardianUpdatedPayload{})
	case EventTypeGuardianAction:
		return unmarshal(&GuardianActionPayload{})
	default:
		return UnrecognizedPayload{Type: e.Type, Raw: e.Payload}
	}
}
