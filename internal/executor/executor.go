// Package executor runs one queued action end to end.
//
// Execute looks up the agent and action, applies scheduling gates, claims
// the action, dispatches it to the channel collaborator for its type and
// records the terminal state:
//
//	gate → claim (pending → in_progress) → handler → channel (timeout, retry) →
//	finish (completed | failed) → outcome recorder
//
// A gating rejection leaves the action pending. Only completed actions
// produce an outcome tuple.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fleetflow/outreach/control-plane/internal/metrics"
	"github.com/fleetflow/outreach/control-plane/internal/schedule"
	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

var tracer = otel.Tracer("outreach-executor")

// TemplateSource is the slice of the template engine the email handler needs.
type TemplateSource interface {
	SelectForChannel(ctx context.Context, tenantID string, category models.TemplateCategory, lead *models.LeadIntelligence) (*models.Template, error)
	Resolve(ctx context.Context, tenantID, templateID string, tctx models.TemplateContext) (*models.Resolution, error)
}

// Config bounds each channel call.
type Config struct {
	// ChannelTimeout caps one attempt. Zero means 15s.
	ChannelTimeout time.Duration
	// RetryMaxAttempts is the total number of attempts per channel call. Values below 1 mean 1.
	RetryMaxAttempts int
	// RetryInitial is the first backoff interval. Zero means 500ms.
	RetryInitial time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 15 * time.Second
	}
	if c.RetryMaxAttempts < 1 {
		c.RetryMaxAttempts = 1
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	return c
}

// Executor dispatches actions to channel collaborators.
type Executor struct {
	agents    store.AgentRepository
	actions   store.ActionQueueRepository
	templates TemplateSource
	channels  contracts.Channels
	calls     contracts.CallCounter
	outcomes  contracts.OutcomeRecorder
	cfg       Config
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithConfig(cfg Config) Option {
	return func(e *Executor) { e.cfg = cfg.withDefaults() }
}

// New creates an executor. A nil outcome recorder drops outcomes.
func New(
	agents store.AgentRepository,
	actions store.ActionQueueRepository,
	tmpl TemplateSource,
	channels contracts.Channels,
	calls contracts.CallCounter,
	outcomes contracts.OutcomeRecorder,
	opts ...Option,
) *Executor {
	e := &Executor{
		agents:    agents,
		actions:   actions,
		templates: tmpl,
		channels:  channels,
		calls:     calls,
		outcomes:  outcomes,
		cfg:       Config{}.withDefaults(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs one action. It returns the finished action on completion and
// on channel failure (alongside the error). Gating rejections return a
// *models.SchedulingError and leave the action pending.
func (e *Executor) Execute(ctx context.Context, agentID, actionID string) (*models.AgentAction, error) {
	agent, err := e.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	action, err := e.actions.GetAction(ctx, agentID, actionID)
	if err != nil {
		return nil, err
	}
	switch {
	case action.Status.Terminal():
		return action, fmt.Errorf("action %s is %s: %w", actionID, action.Status, models.ErrAlreadyTerminal)
	case action.Status == models.ActionInProgress:
		return action, fmt.Errorf("action %s: %w", actionID, models.ErrInFlight)
	}
	if !agent.IsActive {
		return action, fmt.Errorf("agent %s: %w", agentID, models.ErrAgentInactive)
	}

	now := e.now()
	if err := schedule.Gate(agent, action, now); err != nil {
		var se *models.SchedulingError
		if errors.As(err, &se) {
			metrics.SchedulingRejections.WithLabelValues(string(se.Reason)).Inc()
		}
		log.Debug().Str("agent_id", agentID).Str("action_id", actionID).Err(err).Msg("Action gated")
		return action, err
	}

	claimed, err := e.actions.ClaimAction(ctx, agentID, actionID, now)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// Nothing has reached a channel yet; hand the action back.
		if rerr := e.actions.ReleaseAction(context.WithoutCancel(ctx), agentID, actionID, e.now()); rerr != nil {
			log.Error().Err(rerr).Str("action_id", actionID).Msg("Failed to release claimed action")
		}
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("outreach.tenant_id", claimed.TenantID),
		attribute.String("outreach.agent_id", agentID),
		attribute.String("outreach.action_id", actionID),
		attribute.String("outreach.action_type", string(claimed.ActionType)),
		attribute.String("outreach.priority", string(claimed.Priority)),
	)

	log.Info().
		Str("agent_id", agentID).
		Str("action_id", actionID).
		Str("type", string(claimed.ActionType)).
		Str("priority", string(claimed.Priority)).
		Int("attempt", claimed.Attempts).
		Msg("▶️ Action claimed")

	result, runErr := e.dispatch(ctx, agent, claimed)
	e.finish(claimed, result, runErr)

	// The terminal write must land even if the caller has gone away.
	if err := e.actions.FinishAction(context.WithoutCancel(ctx), claimed); err != nil {
		span.RecordError(err)
		return claimed, fmt.Errorf("persist action result: %w", err)
	}

	elapsed := time.Duration(*claimed.ResponseTime) * time.Millisecond
	metrics.ActionsTotal.WithLabelValues(string(claimed.ActionType), string(claimed.Status)).Inc()
	metrics.ActionDuration.WithLabelValues(string(claimed.ActionType)).Observe(elapsed.Seconds())

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Warn().
			Str("agent_id", agentID).
			Str("action_id", actionID).
			Str("type", string(claimed.ActionType)).
			Err(runErr).
			Msg("❌ Action failed")
		return claimed, runErr
	}

	log.Info().
		Str("agent_id", agentID).
		Str("action_id", actionID).
		Str("type", string(claimed.ActionType)).
		Str("outcome", result.Outcome).
		Dur("response_time", elapsed).
		Msg("✅ Action completed")

	e.record(ctx, agent, claimed)
	return claimed, nil
}

// finish applies the terminal transition in memory.
func (e *Executor) finish(a *models.AgentAction, result *models.ActionResult, runErr error) {
	done := e.now()
	start := done
	if a.ExecutedAt != nil {
		start = *a.ExecutedAt
	}
	ms := done.Sub(start).Milliseconds()
	a.ResponseTime = &ms
	a.CompletedAt = &done
	a.UpdatedAt = done

	if runErr != nil {
		a.Status = models.ActionFailed
		a.Error = runErr.Error()
		return
	}
	a.Status = models.ActionCompleted
	a.Result = result
	if result.TemplateID != "" {
		a.TemplateID = result.TemplateID
	}
}

func (e *Executor) record(ctx context.Context, agent *models.AgentConfig, a *models.AgentAction) {
	if e.outcomes == nil {
		return
	}
	in := models.Interaction{
		ID:                  uuid.New().String(),
		TenantID:            agent.TenantID,
		AgentID:             agent.AgentID,
		ActionID:            a.ID,
		Type:                string(a.ActionType),
		LeadID:              a.TargetID,
		LeadData:            a.Context.LeadData,
		TemplateUsed:        a.TemplateID,
		ResponseTimeSeconds: float64(*a.ResponseTime) / 1000,
		Outcome:             a.Result.Outcome,
		Sentiment:           a.Result.Sentiment,
		RecordedAt:          *a.CompletedAt,
	}
	if in.Outcome == "" {
		in.Outcome = "completed"
	}
	if err := e.outcomes.Record(ctx, agent.TenantID, agent.AgentID, in); err != nil {
		log.Warn().Err(err).Str("action_id", a.ID).Msg("Failed to record outcome")
	}
}

// dispatch is the closed switch over action types.
func (e *Executor) dispatch(ctx context.Context, agent *models.AgentConfig, a *models.AgentAction) (*models.ActionResult, error) {
	switch a.ActionType {
	case models.ActionEmail:
		return e.email(ctx, agent, a)
	case models.ActionCall:
		return e.call(ctx, agent, a)
	case models.ActionSocialPost:
		return e.social(ctx, agent, a)
	case models.ActionTextMessage:
		return e.text(ctx, agent, a)
	case models.ActionCRMUpdate:
		return e.crm(ctx, agent, a)
	case models.ActionDataResearch:
		return e.research(ctx, agent, a)
	}
	return nil, &models.ValidationError{Issues: []string{fmt.Sprintf("unknown action type %q", a.ActionType)}}
}
