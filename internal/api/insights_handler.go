package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/api/shared"
	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/insights"
	"github.com/docuflux/courier-api/internal/ranking"
	"github.com/docuflux/courier-api/internal/store"
)

// snapshotListLimit bounds how many recent deliveries feed an insights or
// ranking snapshot.
const snapshotListLimit = 1000

// ConnectorInsightsResponse is one connector's computed health metrics.
type ConnectorInsightsResponse struct {
	ConnectorType string                       `json:"connector_type"`
	Insights      insights.ConnectorInsights   `json:"insights"`
	Summary       domain.ConnectorQueueSummary `json:"summary"`
}

// InsightsHandler handles read-only analytics requests: insights, outcome
// windows, and risk ranking. All three derive from point-in-time snapshots.
type InsightsHandler struct {
	deliveries store.DeliveryStore
	logger     *slog.Logger
}

// NewInsightsHandler creates a new InsightsHandler.
func NewInsightsHandler(deliveries store.DeliveryStore, logger *slog.Logger) *InsightsHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for InsightsHandler")
	}

	return &InsightsHandler{
		deliveries: deliveries,
		logger:     logger.With(slog.String("component", "insights_handler")),
	}
}

// GetInsights handles GET /api/projects/{projectID}/connectors/insights.
// Query parameters: lookback_hours (default 24), connector_type (optional).
func (h *InsightsHandler) GetInsights(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	lookbackHours := lookbackHoursFromRequest(r)
	connectorType := r.URL.Query().Get("connector_type")
	now := time.Now().UTC()

	snapshot, err := h.snapshot(r.Context(), projectID, connectorType, now)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	response := make([]ConnectorInsightsResponse, 0, len(snapshot.summaries))
	for _, summary := range snapshot.summaries {
		if connectorType != "" && summary.ConnectorType != connectorType {
			continue
		}
		response = append(response, ConnectorInsightsResponse{
			ConnectorType: summary.ConnectorType,
			Insights: insights.Compute(
				snapshot.byConnector[summary.ConnectorType],
				snapshot.attemptsByDelivery,
				lookbackHours,
				now,
			),
			Summary: summary,
		})
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetOutcomes handles GET /api/projects/{projectID}/connectors/outcomes.
// Compares the current lookback window against the immediately preceding one.
func (h *InsightsHandler) GetOutcomes(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	lookbackHours := lookbackHoursFromRequest(r)
	connectorType := r.URL.Query().Get("connector_type")
	now := time.Now().UTC()

	deliveries, err := h.deliveries.ListDeliveries(r.Context(), projectID, connectorType, snapshotListLimit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	summary := insights.SummarizeOutcomes(deliveries, lookbackHours, now)
	shared.RespondWithJSON(w, r, http.StatusOK, summary)
}

// GetRanking handles GET /api/projects/{projectID}/connectors/ranking.
func (h *InsightsHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	lookbackHours := lookbackHoursFromRequest(r)
	now := time.Now().UTC()

	snapshot, err := h.snapshot(r.Context(), projectID, "", now)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	records := make([]ranking.ConnectorRecord, 0, len(snapshot.summaries))
	for _, summary := range snapshot.summaries {
		records = append(records, ranking.ConnectorRecord{
			ConnectorType: summary.ConnectorType,
			Summary:       summary,
			Insights: insights.Compute(
				snapshot.byConnector[summary.ConnectorType],
				snapshot.attemptsByDelivery,
				lookbackHours,
				now,
			),
		})
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ranking.Rank(records))
}

// projectSnapshot bundles the store reads the analytics endpoints share.
type projectSnapshot struct {
	summaries          []domain.ConnectorQueueSummary
	byConnector        map[string][]*domain.ConnectorDelivery
	attemptsByDelivery map[uuid.UUID][]*domain.ConnectorDeliveryAttempt
}

func (h *InsightsHandler) snapshot(
	ctx context.Context,
	projectID uuid.UUID,
	connectorType string,
	now time.Time,
) (*projectSnapshot, error) {
	summaries, err := h.deliveries.QueueSummaries(ctx, projectID, now)
	if err != nil {
		return nil, err
	}

	deliveries, err := h.deliveries.ListDeliveries(ctx, projectID, connectorType, snapshotListLimit)
	if err != nil {
		return nil, err
	}

	snapshot := &projectSnapshot{
		summaries:          summaries,
		byConnector:        make(map[string][]*domain.ConnectorDelivery),
		attemptsByDelivery: make(map[uuid.UUID][]*domain.ConnectorDeliveryAttempt),
	}
	for _, d := range deliveries {
		snapshot.byConnector[d.ConnectorType] = append(snapshot.byConnector[d.ConnectorType], d)
		attempts, err := h.deliveries.ListAttempts(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		snapshot.attemptsByDelivery[d.ID] = attempts
	}
	return snapshot, nil
}
