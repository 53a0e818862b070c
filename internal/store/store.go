// Package store provides the repository interfaces and implementations for the
// outreach control plane. The in-memory store backs tests and single-node
// deployments; the SQLite store persists across restarts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetflow/outreach/control-plane/internal/schedule"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Store is the primary storage interface for the control plane.
// The orchestrator, executor and scheduler depend on the narrower
// repositories; wiring code hands them the same Store.
type Store interface {
	AgentRepository
	ActionQueueRepository
	TemplateRepository
	LeadRepository

	// Ping checks if the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
}

// ── Agent Repository ────────────────────────────────────────

type AgentRepository interface {
	CreateAgent(ctx context.Context, agent *models.AgentConfig) error
	GetAgent(ctx context.Context, agentID string) (*models.AgentConfig, error)
	UpdateAgent(ctx context.Context, agent *models.AgentConfig) error
	// ListAgents returns agents for a tenant, or all agents when tenantID is empty.
	ListAgents(ctx context.Context, tenantID string, activeOnly bool) ([]models.AgentConfig, error)
}

// ── Action Queue Repository ─────────────────────────────────

// ActionQueueRepository holds each agent's queue. Listings are returned in
// drain order: priority first, then creation time.
type ActionQueueRepository interface {
	EnqueueActions(ctx context.Context, actions []*models.AgentAction) error
	GetAction(ctx context.Context, agentID, actionID string) (*models.AgentAction, error)
	ListActions(ctx context.Context, agentID string, filter models.ActionFilter) ([]models.AgentAction, error)

	// ClaimAction moves a pending action to in_progress and stamps executedAt.
	// Returns models.ErrInFlight if another attempt holds it and
	// models.ErrAlreadyTerminal if it already finished.
	ClaimAction(ctx context.Context, agentID, actionID string, now time.Time) (*models.AgentAction, error)

	// FinishAction persists a completed or failed action. The stored copy must
	// still be in_progress.
	FinishAction(ctx context.Context, action *models.AgentAction) error

	// ReleaseAction returns an in_progress action to pending, clearing executedAt.
	// Used when a claimed attempt is rejected before reaching a channel.
	ReleaseAction(ctx context.Context, agentID, actionID string, now time.Time) error

	// CancelAction moves a pending action to cancelled.
	CancelAction(ctx context.Context, agentID, actionID, reason string, now time.Time) (*models.AgentAction, error)

	CountActions(ctx context.Context, agentID string, status models.ActionStatus) (int, error)

	// PurgeActions deletes the listed actions that are terminal and returns how
	// many were removed. Pending and in_progress ids are skipped.
	PurgeActions(ctx context.Context, agentID string, ids []string) (int, error)
}

// ── Template Repository ─────────────────────────────────────

type TemplateRepository interface {
	CreateTemplate(ctx context.Context, tmpl *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)

	// UpdateTemplate writes tmpl only if the stored version equals
	// expectedVersion, storing it as expectedVersion+1. Returns
	// models.ErrVersionConflict otherwise.
	UpdateTemplate(ctx context.Context, tmpl *models.Template, expectedVersion int) error

	ListTemplates(ctx context.Context, tenantID string, filter models.TemplateFilter) ([]models.Template, error)

	// TouchTemplate bumps the usage counter and last-used timestamp.
	TouchTemplate(ctx context.Context, id string, at time.Time) error
}

// ── Lead Repository ─────────────────────────────────────────

type LeadRepository interface {
	SaveLead(ctx context.Context, lead *models.LeadIntelligence) error
	GetLead(ctx context.Context, tenantID, leadID string) (*models.LeadIntelligence, error)
	// ListLeads returns matching leads sorted by score, highest first.
	ListLeads(ctx context.Context, tenantID string, filter models.LeadFilter) ([]models.LeadIntelligence, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// Is lets callers match with errors.Is(err, models.ErrNotFound).
func (e *ErrNotFound) Is(target error) bool {
	return target == models.ErrNotFound
}

// IsNotFound reports whether err is a not-found error from any store.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

// transitionState checks a status change against the action state machine
// and maps a refused move onto the error callers match on.
func transitionState(from, to models.ActionStatus) error {
	switch {
	case schedule.CanTransition(from, to):
		return nil
	case from.Terminal():
		return models.ErrAlreadyTerminal
	case from == models.ActionInProgress:
		return models.ErrInFlight
	default:
		return &models.ValidationError{Issues: []string{"action is " + string(from) + ", cannot move to " + string(to)}}
	}
}
