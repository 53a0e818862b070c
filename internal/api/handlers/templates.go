package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetflow/outreach/control-plane/internal/api/middleware"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
	pkgmw "github.com/fleetflow/outreach/control-plane/pkg/middleware"
)

type previewRequest struct {
	Draft   models.TemplateDraft   `json:"draft"`
	Context models.TemplateContext `json:"context"`
}

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.TemplateFilter{
		Category:   models.TemplateCategory(q.Get("category")),
		ActiveOnly: q.Get("active") == "true",
		Tag:        q.Get("tag"),
	}
	list, err := h.Templates.List(r.Context(), middleware.GetTenantID(r), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	if list == nil {
		list = []models.Template{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var draft models.TemplateDraft
	if !decode(w, r, &draft) {
		return
	}
	tmpl, err := h.Templates.Create(r.Context(), middleware.GetTenantID(r), callerID(r), draft)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tmpl)
}

func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.Templates.Get(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "templateId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var draft models.TemplateDraft
	if !decode(w, r, &draft) {
		return
	}
	tmpl, err := h.Templates.Update(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "templateId"), draft)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

func (h *Handlers) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.Templates.Deactivate(r.Context(), middleware.GetTenantID(r), chi.URLParam(r, "templateId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

func (h *Handlers) ResolveTemplate(w http.ResponseWriter, r *http.Request) {
	var tctx models.TemplateContext
	if !decode(w, r, &tctx) {
		return
	}
	tenant := middleware.GetTenantID(r)
	tctx.TenantID = tenant
	if tctx.UserID == "" {
		tctx.UserID = callerID(r)
	}
	res, err := h.Templates.Resolve(r.Context(), tenant, chi.URLParam(r, "templateId"), tctx)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decode(w, r, &req) {
		return
	}
	tenant := middleware.GetTenantID(r)
	req.Context.TenantID = tenant
	res, err := h.Templates.Preview(r.Context(), tenant, req.Draft, req.Context)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// callerID names the authenticated caller, or "api" for anonymous requests.
func callerID(r *http.Request) string {
	if id := pkgmw.GetIdentity(r.Context()); id != nil {
		return id.Subject
	}
	return "api"
}
