package api

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/docuflux/courier-api/internal/api/shared"
	"github.com/docuflux/courier-api/internal/backpressure"
	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/store"
)

// UpsertDraftRequest represents the request body for creating or amending a
// policy draft. All patch fields are optional; absent fields stay untouched.
type UpsertDraftRequest struct {
	Patch             domain.BackpressurePolicyPatch `json:"patch"`
	RequiredApprovals *int                           `json:"required_approvals" validate:"omitempty,gte=1"`
	ActivateAt        *time.Time                     `json:"activate_at"`
}

// DraftResponse bundles a draft with its activation readiness.
type DraftResponse struct {
	Draft      *domain.BackpressurePolicyDraft `json:"draft"`
	Activation backpressure.ActivationStatus   `json:"activation"`
}

// SimulateRequest represents the request body for a backpressure simulation.
type SimulateRequest struct {
	RequestedLimit int                            `json:"requested_limit" validate:"required,gt=0"`
	Patch          domain.BackpressurePolicyPatch `json:"patch"`
}

// UpsertGuardianPolicyRequest represents the request body for replacing a
// project's guardian policy.
type UpsertGuardianPolicyRequest struct {
	IsEnabled            bool    `json:"is_enabled"`
	LookbackHours        int     `json:"lookback_hours" validate:"required,gt=0"`
	RiskThreshold        float64 `json:"risk_threshold" validate:"gte=0"`
	MaxActionsPerProject int     `json:"max_actions_per_project" validate:"gte=0"`
	ActionLimit          int     `json:"action_limit" validate:"gte=0"`
	CooldownMinutes      int     `json:"cooldown_minutes" validate:"gte=0"`
	MinDeadLetterMinutes int     `json:"min_dead_letter_minutes" validate:"gte=0"`
	AllowProcessQueue    bool    `json:"allow_process_queue"`
	AllowRedrive         bool    `json:"allow_redrive_dead_letters"`
}

// PolicyHandler handles backpressure and guardian policy HTTP requests.
type PolicyHandler struct {
	lifecycle  *backpressure.Lifecycle
	advisor    *backpressure.Advisor
	deliveries store.DeliveryStore
	policies   store.PolicyStore
	logger     *slog.Logger
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(
	lifecycle *backpressure.Lifecycle,
	advisor *backpressure.Advisor,
	deliveries store.DeliveryStore,
	policies store.PolicyStore,
	logger *slog.Logger,
) *PolicyHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for PolicyHandler")
	}

	return &PolicyHandler{
		lifecycle:  lifecycle,
		advisor:    advisor,
		deliveries: deliveries,
		policies:   policies,
		logger:     logger.With(slog.String("component", "policy_handler")),
	}
}

// GetPolicy handles GET /api/projects/{projectID}/backpressure/policy.
// A project with no policy yet gets one created from the configured defaults.
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	policy, err := h.lifecycle.Policy(r.Context(), projectID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, policy)
}

// UpsertDraft handles PUT /api/projects/{projectID}/backpressure/draft.
func (h *PolicyHandler) UpsertDraft(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	var req UpsertDraftRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	draft, err := h.lifecycle.UpsertDraft(r.Context(), projectID, actorFromRequest(r), backpressure.DraftUpdate{
		Patch:             req.Patch,
		RequiredApprovals: req.RequiredApprovals,
		ActivateAt:        req.ActivateAt,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DraftResponse{
		Draft:      draft,
		Activation: backpressure.EvaluateActivation(draft, time.Now().UTC()),
	})
}

// ApproveDraft handles POST /api/projects/{projectID}/backpressure/draft/approve.
// Approval is idempotent per actor.
func (h *PolicyHandler) ApproveDraft(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	draft, err := h.lifecycle.RecordApproval(r.Context(), projectID, actorFromRequest(r))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DraftResponse{
		Draft:      draft,
		Activation: backpressure.EvaluateActivation(draft, time.Now().UTC()),
	})
}

// ApplyDraft handles POST /api/projects/{projectID}/backpressure/draft/apply.
func (h *PolicyHandler) ApplyDraft(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	policy, err := h.lifecycle.Apply(r.Context(), projectID, actorFromRequest(r))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, policy)
}

// GetDraftActivation handles GET /api/projects/{projectID}/backpressure/draft/activation.
func (h *PolicyHandler) GetDraftActivation(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	draft, err := h.lifecycle.Draft(r.Context(), projectID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DraftResponse{
		Draft:      draft,
		Activation: backpressure.EvaluateActivation(draft, time.Now().UTC()),
	})
}

// Simulate handles POST /api/projects/{projectID}/backpressure/simulate.
// The candidate policy is the live policy with the request's patch applied;
// nothing is persisted.
func (h *PolicyHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	var req SimulateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	if err := req.Patch.Validate(); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	current, err := h.lifecycle.Policy(r.Context(), projectID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	candidate := clonePolicy(current)
	req.Patch.ApplyTo(candidate)

	summaries, err := h.deliveries.QueueSummaries(r.Context(), projectID, time.Now().UTC())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	byConnector := make(map[string]domain.ConnectorQueueSummary, len(summaries))
	for _, s := range summaries {
		byConnector[s.ConnectorType] = s
	}

	simulation := backpressure.Simulate(
		connectorTypesFor(summaries, current, candidate),
		req.RequestedLimit,
		byConnector,
		current,
		candidate,
	)
	shared.RespondWithJSON(w, r, http.StatusOK, simulation)
}

// Suggest handles GET /api/projects/{projectID}/backpressure/suggest.
func (h *PolicyHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	summaries, err := h.deliveries.QueueSummaries(r.Context(), projectID, time.Now().UTC())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, h.advisor.Suggest(summaries))
}

// UpsertGuardianPolicy handles PUT /api/projects/{projectID}/guardian/policy.
func (h *PolicyHandler) UpsertGuardianPolicy(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDFromRequest(w, r)
	if !ok {
		return
	}

	var req UpsertGuardianPolicyRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	policy := &domain.GuardianPolicy{
		ProjectID:            projectID,
		IsEnabled:            req.IsEnabled,
		LookbackHours:        req.LookbackHours,
		RiskThreshold:        req.RiskThreshold,
		MaxActionsPerProject: req.MaxActionsPerProject,
		ActionLimit:          req.ActionLimit,
		CooldownMinutes:      req.CooldownMinutes,
		MinDeadLetterMinutes: req.MinDeadLetterMinutes,
		AllowProcessQueue:    req.AllowProcessQueue,
		AllowRedrive:         req.AllowRedrive,
		CreatedAt:            time.Now().UTC(),
	}
	if existing, err := h.policies.GetGuardianPolicy(r.Context(), projectID); err == nil {
		policy.CreatedAt = existing.CreatedAt
	}

	if err := h.lifecycle.UpsertGuardianPolicy(r.Context(), policy, actorFromRequest(r)); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, policy)
}

// clonePolicy deep-copies a policy so simulation cannot mutate the live one.
func clonePolicy(p *domain.BackpressurePolicy) *domain.BackpressurePolicy {
	copied := *p
	if p.ConnectorOverrides != nil {
		copied.ConnectorOverrides = make(map[string]domain.ConnectorOverride, len(p.ConnectorOverrides))
		for k, v := range p.ConnectorOverrides {
			copied.ConnectorOverrides[k] = v
		}
	}
	return &copied
}

// connectorTypesFor unions observed connectors with any the policies name in
// overrides, sorted for deterministic output.
func connectorTypesFor(
	summaries []domain.ConnectorQueueSummary,
	policies ...*domain.BackpressurePolicy,
) []string {
	seen := make(map[string]bool)
	for _, s := range summaries {
		seen[s.ConnectorType] = true
	}
	for _, p := range policies {
		for connectorType := range p.ConnectorOverrides {
			seen[connectorType] = true
		}
	}

	types := make([]string, 0, len(seen))
	for connectorType := range seen {
		types = append(types, connectorType)
	}
	sort.Strings(types)
	return types
}
