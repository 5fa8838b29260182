package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docuflux/courier-api/internal/api/shared"
)

// actorHeader carries the calling operator's identity for the audit trail.
const actorHeader = "X-Actor"

// defaultLookbackHours is used when a request omits lookback_hours.
const defaultLookbackHours = 24

// projectIDFromRequest parses the projectID URL parameter, writing a 400
// response and returning ok=false when it is malformed.
func projectIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid project ID")
		return uuid.Nil, false
	}
	return projectID, true
}

// actorFromRequest returns the caller identity for audit events, falling back
// to a generic label when the header is absent.
func actorFromRequest(r *http.Request) string {
	if actor := r.Header.Get(actorHeader); actor != "" {
		return actor
	}
	return "api"
}

// lookbackHoursFromRequest parses the lookback_hours query parameter.
func lookbackHoursFromRequest(r *http.Request) int {
	raw := r.URL.Query().Get("lookback_hours")
	if raw == "" {
		return defaultLookbackHours
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return defaultLookbackHours
	}
	return hours
}

// limitFromRequest parses the limit query parameter with a default and cap.
func limitFromRequest(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
