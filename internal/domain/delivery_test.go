package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewConnectorDelivery(t *testing.T) {
	t.Parallel() // Enable parallel execution
	projectID := uuid.New()

	delivery, err := NewConnectorDelivery(projectID, "webhook", "key-1", "hash-1", 5)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if delivery.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}
	if delivery.ProjectID != projectID {
		t.Errorf("Expected project ID %s, got %s", projectID, delivery.ProjectID)
	}
	if delivery.Status != DeliveryStatusQueued {
		t.Errorf("Expected status %s, got %s", DeliveryStatusQueued, delivery.Status)
	}
	if delivery.NextAttemptAt == nil {
		t.Error("Expected next attempt time to be set for a queued delivery")
	}
	if delivery.AttemptCount != 0 {
		t.Errorf("Expected zero attempts, got %d", delivery.AttemptCount)
	}

	// Test invalid project ID
	_, err = NewConnectorDelivery(uuid.Nil, "webhook", "", "hash-1", 5)
	if !errors.Is(err, ErrDeliveryProjectIDEmpty) {
		t.Errorf("Expected error %v, got %v", ErrDeliveryProjectIDEmpty, err)
	}

	// Test empty connector type
	_, err = NewConnectorDelivery(projectID, "", "", "hash-1", 5)
	if !errors.Is(err, ErrDeliveryConnectorTypeEmpty) {
		t.Errorf("Expected error %v, got %v", ErrDeliveryConnectorTypeEmpty, err)
	}

	// Test empty payload hash
	_, err = NewConnectorDelivery(projectID, "webhook", "", "", 5)
	if !errors.Is(err, ErrDeliveryPayloadHashEmpty) {
		t.Errorf("Expected error %v, got %v", ErrDeliveryPayloadHashEmpty, err)
	}
}

func TestConnectorDeliveryValidateStatusInvariants(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	base := func() *ConnectorDelivery {
		return &ConnectorDelivery{
			ID:            uuid.New(),
			ProjectID:     uuid.New(),
			ConnectorType: "webhook",
			PayloadHash:   "hash",
			Status:        DeliveryStatusQueued,
			MaxAttempts:   3,
			NextAttemptAt: &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*ConnectorDelivery)
		wantErr bool
	}{
		{
			name:   "valid queued delivery",
			mutate: func(d *ConnectorDelivery) {},
		},
		{
			name: "delivered without delivered_at",
			mutate: func(d *ConnectorDelivery) {
				d.Status = DeliveryStatusDelivered
				d.NextAttemptAt = nil
			},
			wantErr: true,
		},
		{
			name: "delivered_at set on non-delivered delivery",
			mutate: func(d *ConnectorDelivery) {
				d.DeliveredAt = &now
			},
			wantErr: true,
		},
		{
			name: "dead_lettered without reason",
			mutate: func(d *ConnectorDelivery) {
				d.Status = DeliveryStatusDeadLettered
				d.NextAttemptAt = nil
			},
			wantErr: true,
		},
		{
			name: "dead letter reason on queued delivery",
			mutate: func(d *ConnectorDelivery) {
				d.DeadLetterReason = "exhausted"
			},
			wantErr: true,
		},
		{
			name: "queued without next_attempt_at",
			mutate: func(d *ConnectorDelivery) {
				d.NextAttemptAt = nil
			},
			wantErr: true,
		},
		{
			name: "next_attempt_at on terminal delivery",
			mutate: func(d *ConnectorDelivery) {
				d.Status = DeliveryStatusDelivered
				d.DeliveredAt = &now
			},
			wantErr: true,
		},
		{
			name: "attempt count over budget",
			mutate: func(d *ConnectorDelivery) {
				d.AttemptCount = 4
			},
			wantErr: true,
		},
		{
			name: "valid delivered delivery",
			mutate: func(d *ConnectorDelivery) {
				d.Status = DeliveryStatusDelivered
				d.DeliveredAt = &now
				d.NextAttemptAt = nil
			},
		},
		{
			name: "valid dead_lettered delivery",
			mutate: func(d *ConnectorDelivery) {
				d.Status = DeliveryStatusDeadLettered
				d.DeadLetterReason = "exhausted"
				d.NextAttemptAt = nil
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := base()
			tc.mutate(d)
			err := d.Validate()
			if tc.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestCanTransitionTo(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from    DeliveryStatus
		to      DeliveryStatus
		allowed bool
	}{
		{DeliveryStatusQueued, DeliveryStatusRetrying, true},
		{DeliveryStatusQueued, DeliveryStatusDelivered, true},
		{DeliveryStatusQueued, DeliveryStatusDeadLettered, true},
		{DeliveryStatusRetrying, DeliveryStatusDelivered, true},
		{DeliveryStatusRetrying, DeliveryStatusDeadLettered, true},
		{DeliveryStatusRetrying, DeliveryStatusRetrying, true},
		{DeliveryStatusRetrying, DeliveryStatusQueued, false},
		{DeliveryStatusDeadLettered, DeliveryStatusQueued, true},
		{DeliveryStatusDeadLettered, DeliveryStatusDelivered, false},
		{DeliveryStatusDelivered, DeliveryStatusQueued, false},
		{DeliveryStatusDelivered, DeliveryStatusRetrying, false},
		{DeliveryStatusDelivered, DeliveryStatusDeadLettered, false},
	}

	for _, tc := range tests {
		d := &ConnectorDelivery{Status: tc.from}
		if got := d.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestExhausted(t *testing.T) {
	t.Parallel()
	d := &ConnectorDelivery{AttemptCount: 2, MaxAttempts: 3}
	if d.Exhausted() {
		t.Error("Expected delivery with remaining budget not to be exhausted")
	}
	d.AttemptCount = 3
	if !d.Exhausted() {
		t.Error("Expected delivery at max attempts to be exhausted")
	}
}

func TestAttemptSucceeded(t *testing.T) {
	t.Parallel()
	code := func(c int) *int { return &c }

	tests := []struct {
		statusCode *int
		want       bool
	}{
		{code(200), true},
		{code(204), true},
		{code(299), true},
		{code(300), false},
		{code(404), false},
		{code(500), false},
		{nil, false},
	}

	for _, tc := range tests {
		a := &ConnectorDeliveryAttempt{StatusCode: tc.statusCode}
		if got := a.Succeeded(); got != tc.want {
			t.Errorf("Succeeded(%v) = %v, want %v", tc.statusCode, got, tc.want)
		}
	}
}
