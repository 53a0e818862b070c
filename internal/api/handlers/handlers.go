// Package handlers implements the HTTP handlers for the outreach control plane.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/internal/orchestrator"
	"github.com/fleetflow/outreach/control-plane/internal/scheduler"
	"github.com/fleetflow/outreach/control-plane/internal/templates"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Templates    *templates.Engine
	Scheduler    *scheduler.Scheduler
}

func New(orch *orchestrator.Orchestrator, tmpl *templates.Engine, sched *scheduler.Scheduler) *Handlers {
	return &Handlers{Orchestrator: orch, Templates: tmpl, Scheduler: sched}
}

// TickScheduler runs one scheduler pass synchronously.
func (h *Handlers) TickScheduler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Scheduler.Tick(r.Context()))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a pipeline error to its HTTP status.
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}

	body := map[string]interface{}{"error": err.Error()}
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		body["issues"] = ve.Issues
	}
	var se *models.SchedulingError
	if errors.As(err, &se) {
		body["reason"] = se.Reason
	}
	respondJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrSchedulingRejected),
		errors.Is(err, models.ErrAlreadyTerminal),
		errors.Is(err, models.ErrInFlight),
		errors.Is(err, models.ErrAgentInactive),
		errors.Is(err, models.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrChannelFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
