package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetflow/outreach/control-plane/internal/api/middleware"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

func (h *Handlers) ProcessLead(w http.ResponseWriter, r *http.Request) {
	var lead models.LeadData
	if !decode(w, r, &lead) {
		return
	}
	res, err := h.Orchestrator.ProcessIncomingLead(r.Context(), middleware.GetTenantID(r), lead)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	filter, err := leadFilter(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	leads, err := h.Orchestrator.ListLeadIntelligence(r.Context(), middleware.GetTenantID(r), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	if leads == nil {
		leads = []models.LeadIntelligence{}
	}
	respondJSON(w, http.StatusOK, leads)
}

func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.Orchestrator.GetLead(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "leadId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lead)
}

func leadFilter(q url.Values) (models.LeadFilter, error) {
	f := models.LeadFilter{
		Sentiment: models.Sentiment(q.Get("sentiment")),
		Intent:    models.Intent(q.Get("intent")),
		Stage:     models.RelationshipStage(q.Get("stage")),
	}
	for name, dst := range map[string]**int{"min_score": &f.MinScore, "max_score": &f.MaxScore} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("%s must be an integer, got %q", name, raw)
		}
		*dst = &n
	}
	return f, nil
}
