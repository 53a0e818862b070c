// Package orchestrator is the public entry point of the outreach pipeline.
//
// It wires lead scoring, action derivation, the per-agent queues, the
// executor and the outcome recorder behind the operations the HTTP API and
// embedding programs call. Every agent- or action-scoped call names the
// caller's tenant; touching another tenant's agent is ErrUnauthorized.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fleetflow/outreach/control-plane/internal/analytics"
	"github.com/fleetflow/outreach/control-plane/internal/deriver"
	"github.com/fleetflow/outreach/control-plane/internal/metrics"
	"github.com/fleetflow/outreach/control-plane/internal/schedule"
	"github.com/fleetflow/outreach/control-plane/internal/scheduler"
	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

var tracer = otel.Tracer("outreach-orchestrator")

// RecentActivityLimit is how many interactions GetAgentStatus returns.
const RecentActivityLimit = 10

// LeadScorer turns raw lead data into scored intelligence.
type LeadScorer interface {
	Score(ctx context.Context, tenantID string, raw models.LeadData) (*models.LeadIntelligence, error)
}

// Drainer is the slice of the scheduler the orchestrator drives.
type Drainer interface {
	Notify(agentID string)
	DrainAgent(ctx context.Context, agentID string, minPriority models.Priority) (scheduler.DrainReport, error)
	Execute(ctx context.Context, agentID, actionID string) (*models.AgentAction, error)
	Cancel(ctx context.Context, agentID, actionID string) (*models.AgentAction, error)
}

// Activity is the read side of the outcome recorder.
type Activity interface {
	RecentActivity(agentID string, n int) []models.Interaction
	DailyMetrics(tenantID, agentID string, now time.Time) *models.AgentMetrics
}

// LeadResult reports what ProcessIncomingLead stored and queued.
type LeadResult struct {
	Lead      *models.LeadIntelligence `json:"lead"`
	ActionIDs []string                 `json:"action_ids"`
	Agents    int                      `json:"agents"`
}

type Config struct {
	// ImmediateDrain executes urgent and high actions before
	// ProcessIncomingLead returns instead of waiting for the scheduler.
	ImmediateDrain bool
}

type Orchestrator struct {
	store     store.Store
	scorer    LeadScorer
	directory contracts.CompanyDirectory
	drainer   Drainer
	activity  Activity
	cfg       Config
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(
	s store.Store,
	scorer LeadScorer,
	directory contracts.CompanyDirectory,
	drainer Drainer,
	activity Activity,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	if activity == nil {
		activity = analytics.NewRecorder(0)
	}
	o := &Orchestrator{
		store:     s,
		scorer:    scorer,
		directory: directory,
		drainer:   drainer,
		activity:  activity,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ── Agents ──────────────────────────────────────────────────

// InitializeAgent creates an agent with the platform defaults, applies the
// overrides and persists it.
func (o *Orchestrator) InitializeAgent(ctx context.Context, tenantID, contractorID string, overrides *models.AgentPatch) (*models.AgentConfig, error) {
	tenantID = strings.TrimSpace(tenantID)
	contractorID = strings.TrimSpace(contractorID)
	var issues []string
	if tenantID == "" {
		issues = append(issues, "tenant id is required")
	}
	if contractorID == "" {
		issues = append(issues, "contractor id is required")
	}
	if len(issues) > 0 {
		return nil, &models.ValidationError{Issues: issues}
	}

	cfg := models.NewAgentConfig(tenantID, uuid.New().String(), contractorID, o.now())
	overrides.Apply(cfg)
	if err := validateAgent(cfg); err != nil {
		return nil, err
	}
	if err := o.store.CreateAgent(ctx, cfg); err != nil {
		return nil, err
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("agent_id", cfg.AgentID).
		Str("contractor_id", contractorID).
		Msg("🤖 Agent initialized")
	return cfg, nil
}

// GetAgent returns tenantID's agent.
func (o *Orchestrator) GetAgent(ctx context.Context, tenantID, agentID string) (*models.AgentConfig, error) {
	return o.authorize(ctx, tenantID, agentID)
}

// ListAgents returns tenantID's agents.
func (o *Orchestrator) ListAgents(ctx context.Context, tenantID string, activeOnly bool) ([]models.AgentConfig, error) {
	return o.store.ListAgents(ctx, tenantID, activeOnly)
}

// UpdateAgentConfig merges patch into the agent. Tenant, agent and
// contractor ids never change.
func (o *Orchestrator) UpdateAgentConfig(ctx context.Context, tenantID, agentID string, patch *models.AgentPatch) (*models.AgentConfig, error) {
	current, err := o.authorize(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	patch.Apply(next)
	next.TenantID = current.TenantID
	next.AgentID = current.AgentID
	next.ContractorID = current.ContractorID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = o.now()

	if err := validateAgent(next); err != nil {
		return nil, err
	}
	if err := o.store.UpdateAgent(ctx, next); err != nil {
		return nil, err
	}
	log.Info().Str("agent_id", agentID).Bool("active", next.IsActive).Msg("Agent configuration updated")
	return next, nil
}

// DeactivateAgent stops the agent from deriving or executing actions. Its
// queue and history are kept.
func (o *Orchestrator) DeactivateAgent(ctx context.Context, tenantID, agentID string) (*models.AgentConfig, error) {
	inactive := false
	return o.UpdateAgentConfig(ctx, tenantID, agentID, &models.AgentPatch{IsActive: &inactive})
}

// GetAgentStatus reports the agent's configuration, queue and today's
// activity in the agent's time zone.
func (o *Orchestrator) GetAgentStatus(ctx context.Context, tenantID, agentID string) (*models.AgentStatusReport, error) {
	agent, err := o.authorize(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	pending, err := o.store.CountActions(ctx, agentID, models.ActionPending)
	if err != nil {
		return nil, err
	}
	inFlight, err := o.store.CountActions(ctx, agentID, models.ActionInProgress)
	if err != nil {
		return nil, err
	}
	return &models.AgentStatusReport{
		Config:         agent,
		QueueDepth:     pending,
		InFlight:       inFlight,
		RecentActivity: o.activity.RecentActivity(agentID, RecentActivityLimit),
		Metrics:        o.activity.DailyMetrics(agent.TenantID, agentID, o.now().In(schedule.Location(agent))),
	}, nil
}

// ── Leads ───────────────────────────────────────────────────

// ProcessIncomingLead scores a lead, stores it and queues actions for every
// active agent of the tenant.
func (o *Orchestrator) ProcessIncomingLead(ctx context.Context, tenantID string, data models.LeadData) (*LeadResult, error) {
	ctx, span := tracer.Start(ctx, "lead.process")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.String("source", data.Source))

	if strings.TrimSpace(tenantID) == "" {
		return nil, &models.ValidationError{Issues: []string{"tenant id is required"}}
	}

	lead, err := o.scorer.Score(ctx, tenantID, data)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("save lead: %w", err)
	}
	metrics.LeadsProcessed.WithLabelValues(string(lead.Urgency)).Inc()
	span.SetAttributes(attribute.String("lead_id", lead.LeadID), attribute.Int("lead_score", lead.LeadScore))

	result := &LeadResult{Lead: lead, ActionIDs: []string{}}

	agents, err := o.store.ListAgents(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		log.Info().Str("tenant_id", tenantID).Str("lead_id", lead.LeadID).Msg("No active agents for tenant, lead stored only")
		return result, nil
	}

	company, err := o.directory.Lookup(ctx, tenantID)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Company lookup failed, using empty profile")
		company = models.CompanyData{}
	}

	now := o.now()
	for i := range agents {
		agent := &agents[i]
		actions := deriver.Derive(agent, lead, company, now)
		if len(actions) == 0 {
			continue
		}
		if err := o.store.EnqueueActions(ctx, actions); err != nil {
			return result, fmt.Errorf("enqueue actions for agent %s: %w", agent.AgentID, err)
		}
		result.Agents++
		for _, a := range actions {
			result.ActionIDs = append(result.ActionIDs, a.ID)
		}
		log.Info().
			Str("agent_id", agent.AgentID).
			Str("lead_id", lead.LeadID).
			Int("lead_score", lead.LeadScore).
			Int("actions", len(actions)).
			Msg("📥 Lead queued")

		if o.cfg.ImmediateDrain {
			if _, err := o.drainer.DrainAgent(ctx, agent.AgentID, models.PriorityHigh); err != nil {
				log.Warn().Err(err).Str("agent_id", agent.AgentID).Msg("Immediate drain failed, scheduler will retry")
				o.drainer.Notify(agent.AgentID)
			}
		} else {
			o.drainer.Notify(agent.AgentID)
		}
	}
	return result, nil
}

// ListLeadIntelligence returns the tenant's leads, highest score first.
func (o *Orchestrator) ListLeadIntelligence(ctx context.Context, tenantID string, filter models.LeadFilter) ([]models.LeadIntelligence, error) {
	return o.store.ListLeads(ctx, tenantID, filter)
}

// GetLead returns one of the tenant's leads.
func (o *Orchestrator) GetLead(ctx context.Context, tenantID, leadID string) (*models.LeadIntelligence, error) {
	return o.store.GetLead(ctx, tenantID, leadID)
}

// ── Actions ─────────────────────────────────────────────────

// ExecuteAgentAction runs one queued action now, subject to the same gates
// as the scheduler. It waits for any drain of the agent in progress.
func (o *Orchestrator) ExecuteAgentAction(ctx context.Context, tenantID, agentID, actionID string) (*models.AgentAction, error) {
	if _, err := o.authorize(ctx, tenantID, agentID); err != nil {
		return nil, err
	}
	return o.drainer.Execute(ctx, agentID, actionID)
}

// ListActions returns the agent's queue in drain order. An empty status
// returns every action.
func (o *Orchestrator) ListActions(ctx context.Context, tenantID, agentID string, status models.ActionStatus) ([]models.AgentAction, error) {
	if _, err := o.authorize(ctx, tenantID, agentID); err != nil {
		return nil, err
	}
	return o.store.ListActions(ctx, agentID, models.ActionFilter{Status: status})
}

// GetAction returns one action of the agent.
func (o *Orchestrator) GetAction(ctx context.Context, tenantID, agentID, actionID string) (*models.AgentAction, error) {
	if _, err := o.authorize(ctx, tenantID, agentID); err != nil {
		return nil, err
	}
	return o.store.GetAction(ctx, agentID, actionID)
}

// CancelAction cancels a pending action.
func (o *Orchestrator) CancelAction(ctx context.Context, tenantID, agentID, actionID string) (*models.AgentAction, error) {
	if _, err := o.authorize(ctx, tenantID, agentID); err != nil {
		return nil, err
	}
	return o.drainer.Cancel(ctx, agentID, actionID)
}

// ── Helpers ─────────────────────────────────────────────────

func (o *Orchestrator) authorize(ctx context.Context, tenantID, agentID string) (*models.AgentConfig, error) {
	agent, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.TenantID != tenantID {
		log.Warn().Str("tenant_id", tenantID).Str("agent_id", agentID).Msg("Cross-tenant agent access denied")
		return nil, fmt.Errorf("agent %s: %w", agentID, models.ErrUnauthorized)
	}
	return agent, nil
}

func validateAgent(cfg *models.AgentConfig) error {
	var issues []string
	if strings.TrimSpace(cfg.Name) == "" {
		issues = append(issues, "name is required")
	}
	if cfg.Settings.MaxDailyCalls < 0 {
		issues = append(issues, "max_daily_calls must not be negative")
	}
	if cfg.Settings.ResponseTimeTarget < 0 {
		issues = append(issues, "response_time_target must not be negative")
	}
	if t := cfg.Settings.EscalationThreshold; t < 0 || t > 100 {
		issues = append(issues, "escalation_threshold must be between 0 and 100")
	}
	switch cfg.Settings.Voice {
	case models.VoiceProfessional, models.VoiceFriendly, models.VoiceAggressive, models.VoiceTechnical:
	default:
		issues = append(issues, fmt.Sprintf("unknown voice %q", cfg.Settings.Voice))
	}
	if tz := cfg.Settings.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			issues = append(issues, fmt.Sprintf("unknown timezone %q", tz))
		}
	}
	if err := schedule.ValidateBusinessHours(cfg.Settings.BusinessHours); err != nil {
		if ve, ok := err.(*models.ValidationError); ok {
			issues = append(issues, ve.Issues...)
		} else {
			issues = append(issues, err.Error())
		}
	}
	if len(issues) > 0 {
		return &models.ValidationError{Issues: issues}
	}
	return nil
}
