package pump

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docuflux/courier-api/internal/domain"
)

// WebhookSender posts delivery envelopes to per-connector HTTP endpoints.
// The payload itself lives with the extraction platform; the envelope carries
// the identifiers a downstream system needs to fetch it.
type WebhookSender struct {
	client    *http.Client
	endpoints map[string]string
}

// NewWebhookSender creates a WebhookSender over the connector-type → URL map.
func NewWebhookSender(endpoints map[string]string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		client:    &http.Client{Timeout: timeout},
		endpoints: endpoints,
	}
}

// deliveryEnvelope is the wire format posted to connector endpoints.
type deliveryEnvelope struct {
	DeliveryID    string `json:"delivery_id"`
	ProjectID     string `json:"project_id"`
	ConnectorType string `json:"connector_type"`
	PayloadHash   string `json:"payload_hash"`
	AttemptNumber int    `json:"attempt_number"`
}

// Deliver posts the envelope and returns the endpoint's status code. An
// unknown connector type or transport failure returns a zero status code and
// an error; the pump records both as a failed attempt.
func (s *WebhookSender) Deliver(ctx context.Context, delivery *domain.ConnectorDelivery) (int, error) {
	endpoint, ok := s.endpoints[delivery.ConnectorType]
	if !ok {
		return 0, fmt.Errorf("no endpoint configured for connector type %q", delivery.ConnectorType)
	}

	body, err := json.Marshal(deliveryEnvelope{
		DeliveryID:    delivery.ID.String(),
		ProjectID:     delivery.ProjectID.String(),
		ConnectorType: delivery.ConnectorType,
		PayloadHash:   delivery.PayloadHash,
		AttemptNumber: delivery.AttemptCount + 1,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal delivery envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if delivery.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", delivery.IdempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("delivery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
