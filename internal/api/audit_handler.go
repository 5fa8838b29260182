package api

import (
	"log/slog"
	"net/http"

	"github.com/docuflux/courier-api/internal/api/shared"
	"github.com/docuflux/courier-api/internal/store"
)

// auditListDefault and auditListMax bound the events returned per request.
const (
	auditListDefault = 50
	auditListMax     = 500
)

// AuditHandler serves the project's audit trail.
type AuditHandler struct {
	audit  store.AuditLog
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audit store.AuditLog, logger *slog.Logger) *AuditHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for AuditHandler")
	}

	return &AuditHandler{
		audit:  audit,
		logger: logger.With(slog.String("component", "audit_handler")),
	}
}

// ListEvents handles GET /api/projects/{projectID}/audit/events requests,
// newest first.
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	limit := limitFromRequest(r, auditListDefault, auditListMax)

	list, err := h.audit.ListEvents(r.Context(), projectID, limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, list)
}
