package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetflow/outreach/control-plane/internal/api/middleware"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

type initializeAgentRequest struct {
	ContractorID string             `json:"contractor_id"`
	Overrides    *models.AgentPatch `json:"overrides,omitempty"`
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	agents, err := h.Orchestrator.ListAgents(r.Context(), middleware.GetTenantID(r), activeOnly)
	if err != nil {
		respondErr(w, err)
		return
	}
	if agents == nil {
		agents = []models.AgentConfig{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) InitializeAgent(w http.ResponseWriter, r *http.Request) {
	var req initializeAgentRequest
	if !decode(w, r, &req) {
		return
	}
	agent, err := h.Orchestrator.InitializeAgent(r.Context(), middleware.GetTenantID(r), req.ContractorID, req.Overrides)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Orchestrator.GetAgent(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "agentId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var patch models.AgentPatch
	if !decode(w, r, &patch) {
		return
	}
	agent, err := h.Orchestrator.UpdateAgentConfig(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "agentId"), &patch)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) DeactivateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Orchestrator.DeactivateAgent(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "agentId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) AgentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Orchestrator.GetAgentStatus(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "agentId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ── Actions ─────────────────────────────────────────────────

func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	status := models.ActionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ActionPending, models.ActionInProgress, models.ActionCompleted, models.ActionFailed, models.ActionCancelled:
	default:
		respondError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}
	actions, err := h.Orchestrator.ListActions(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "agentId"), status)
	if err != nil {
		respondErr(w, err)
		return
	}
	if actions == nil {
		actions = []models.AgentAction{}
	}
	respondJSON(w, http.StatusOK, actions)
}

func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	action, err := h.Orchestrator.GetAction(r.Context(), middleware.GetTenantID(r),
		chi.URLParam(r, "agentId"), chi.URLParam(r, "actionId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, action)
}

// ExecuteAction runs one action now. A channel failure still returns the
// failed action alongside the error.
func (h *Handlers) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	action, err := h.Orchestrator.ExecuteAgentAction(r.Context(), middleware.GetTenantID(r),
		chi.URLParam(r, "agentId"), chi.URLParam(r, "actionId"))
	if err != nil {
		if action != nil && action.Status == models.ActionFailed {
			respondJSON(w, statusFor(err), map[string]interface{}{"error": err.Error(), "action": action})
			return
		}
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, action)
}

func (h *Handlers) CancelAction(w http.ResponseWriter, r *http.Request) {
	action, err := h.Orchestrator.CancelAction(r.Context(), middleware.GetTenantID(r),
		chi.URLParam(r, "agentId"), chi.URLParam(r, "actionId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, action)
}
