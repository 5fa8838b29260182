package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/api/shared"
	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/events"
	"github.com/docuflux/courier-api/internal/pump"
	"github.com/docuflux/courier-api/internal/store"
)

// EnqueueDeliveryRequest represents the request body for enqueueing a delivery.
type EnqueueDeliveryRequest struct {
	ConnectorType  string `json:"connector_type" validate:"required,min=1"`
	IdempotencyKey string `json:"idempotency_key"`
	PayloadHash    string `json:"payload_hash" validate:"required,min=1"`
	MaxAttempts    int    `json:"max_attempts" validate:"omitempty,gt=0"`
}

// EnqueueDeliveryResponse wraps the stored delivery with the dedupe outcome.
type EnqueueDeliveryResponse struct {
	Delivery  *domain.ConnectorDelivery `json:"delivery"`
	Duplicate bool                      `json:"duplicate"`
}

// DeliveryDetailResponse is a delivery with its attempt history.
type DeliveryDetailResponse struct {
	Delivery *domain.ConnectorDelivery          `json:"delivery"`
	Attempts []*domain.ConnectorDeliveryAttempt `json:"attempts"`
}

// DrainRequest represents the request body for a manual drain trigger.
// A zero requested_limit falls back to the pump's configured default.
type DrainRequest struct {
	RequestedLimit int `json:"requested_limit" validate:"omitempty,gt=0"`
}

// DeliveryHandler handles delivery-related HTTP requests.
type DeliveryHandler struct {
	deliveries         store.DeliveryStore
	audit              store.AuditLog
	pump               *pump.Pump
	defaultMaxAttempts int
	defaultDrainLimit  int
	logger             *slog.Logger
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(
	deliveries store.DeliveryStore,
	audit store.AuditLog,
	deliveryPump *pump.Pump,
	defaultMaxAttempts int,
	defaultDrainLimit int,
	logger *slog.Logger,
) *DeliveryHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for DeliveryHandler")
	}

	return &DeliveryHandler{
		deliveries:         deliveries,
		audit:              audit,
		pump:               deliveryPump,
		defaultMaxAttempts: defaultMaxAttempts,
		defaultDrainLimit:  defaultDrainLimit,
		logger:             logger.With(slog.String("component", "delivery_handler")),
	}
}

// EnqueueDelivery handles POST /api/projects/{projectID}/deliveries requests.
// Enqueueing is idempotent: a repeat of an already-known delivery returns the
// existing record with duplicate=true and a 200 instead of a 201.
func (h *DeliveryHandler) EnqueueDelivery(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	var req EnqueueDeliveryRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = h.defaultMaxAttempts
	}

	delivery, err := domain.NewConnectorDelivery(
		projectID,
		req.ConnectorType,
		req.IdempotencyKey,
		req.PayloadHash,
		maxAttempts,
	)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	stored, duplicate, err := h.deliveries.EnqueueDelivery(r.Context(), delivery)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.appendEnqueueAudit(r, projectID, stored, duplicate)

	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	shared.RespondWithJSON(w, r, status, EnqueueDeliveryResponse{
		Delivery:  stored,
		Duplicate: duplicate,
	})
}

// GetDelivery handles GET /api/projects/{projectID}/deliveries/{deliveryID}.
func (h *DeliveryHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := uuid.Parse(chi.URLParam(r, "deliveryID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid delivery ID")
		return
	}

	delivery, err := h.deliveries.GetDelivery(r.Context(), deliveryID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	attempts, err := h.deliveries.ListAttempts(r.Context(), deliveryID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DeliveryDetailResponse{
		Delivery: delivery,
		Attempts: attempts,
	})
}

// TriggerDrain handles POST /api/projects/{projectID}/pump/drain requests.
// The drain runs synchronously under the live policy's effective limits.
func (h *DeliveryHandler) TriggerDrain(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	req := DrainRequest{}
	if r.ContentLength > 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
		if err := shared.ValidateRequest(req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
			return
		}
	}

	requested := req.RequestedLimit
	if requested == 0 {
		requested = h.defaultDrainLimit
	}

	if err := h.pump.DrainProject(r.Context(), projectID, requested); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":          "drained",
		"requested_limit": requested,
	})
}

func (h *DeliveryHandler) appendEnqueueAudit(
	r *http.Request,
	projectID uuid.UUID,
	delivery *domain.ConnectorDelivery,
	duplicate bool,
) {
	event, err := events.NewAuditEvent(
		projectID,
		events.EventTypeDeliveryEnqueued,
		actorFromRequest(r),
		delivery.ConnectorType,
		events.DeliveryEnqueuedPayload{
			DeliveryID:  delivery.ID,
			PayloadHash: delivery.PayloadHash,
			Duplicate:   duplicate,
		},
	)
	if err != nil {
		h.logger.Error("failed to build enqueue audit event", "error", err)
		return
	}
	if err := h.audit.AppendEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to append enqueue audit event", "error", err)
	}
}
