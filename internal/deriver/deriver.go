// Package deriver turns a scored lead into the outbound actions an agent
// should take. Derivation is pure: it reads the agent configuration and the
// lead and returns new pending actions; enqueueing is the caller's job.
package deriver

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// CallScoreThreshold is the minimum lead score that earns a follow-up call.
const CallScoreThreshold = 70

// CallCooldown delays the follow-up call so the email lands first.
const CallCooldown = 30 * time.Minute

// rule is one independently gated derivation step.
type rule struct {
	name  string
	when  func(cfg *models.AgentConfig, lead *models.LeadIntelligence) bool
	build func(lead *models.LeadIntelligence, now time.Time) (models.ActionType, models.Priority, *time.Time)
}

var rules = []rule{
	{
		name: "email-response",
		when: func(cfg *models.AgentConfig, _ *models.LeadIntelligence) bool {
			return cfg.Capabilities.EmailAutomation && cfg.Settings.AutoResponseEnabled
		},
		build: func(lead *models.LeadIntelligence, _ time.Time) (models.ActionType, models.Priority, *time.Time) {
			if lead.Urgency == models.UrgencyUrgent {
				return models.ActionEmail, models.PriorityUrgent, nil
			}
			return models.ActionEmail, models.PriorityHigh, nil
		},
	},
	{
		name: "follow-up-call",
		when: func(cfg *models.AgentConfig, lead *models.LeadIntelligence) bool {
			return cfg.Capabilities.CallAutomation && cfg.Settings.AutoCallingEnabled && lead.LeadScore >= CallScoreThreshold
		},
		build: func(_ *models.LeadIntelligence, now time.Time) (models.ActionType, models.Priority, *time.Time) {
			at := now.Add(CallCooldown)
			return models.ActionCall, models.PriorityMedium, &at
		},
	},
	{
		name: "crm-sync",
		when: func(*models.AgentConfig, *models.LeadIntelligence) bool { return true },
		build: func(*models.LeadIntelligence, time.Time) (models.ActionType, models.Priority, *time.Time) {
			return models.ActionCRMUpdate, models.PriorityLow, nil
		},
	},
}

// Derive returns the pending actions cfg should take for lead. Each action
// carries its own deep copy of the lead and company profile.
func Derive(cfg *models.AgentConfig, lead *models.LeadIntelligence, company models.CompanyData, now time.Time) []*models.AgentAction {
	snapshot := models.ActionContext{
		LeadData:            lead,
		CompanyData:         company,
		ConversationHistory: []map[string]interface{}{},
		AIInsights:          insights(cfg, lead),
	}

	var out []*models.AgentAction
	for _, r := range rules {
		if !r.when(cfg, lead) {
			continue
		}
		typ, prio, at := r.build(lead, now)
		out = append(out, &models.AgentAction{
			ID:           uuid.New().String(),
			TenantID:     cfg.TenantID,
			AgentID:      cfg.AgentID,
			ActionType:   typ,
			TargetID:     lead.LeadID,
			ScheduledFor: at,
			Priority:     prio,
			Context:      snapshot.Clone(),
			Status:       models.ActionPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return out
}

func insights(cfg *models.AgentConfig, lead *models.LeadIntelligence) map[string]interface{} {
	m := map[string]interface{}{
		"escalate": cfg.Settings.EscalationThreshold > 0 && lead.LeadScore >= cfg.Settings.EscalationThreshold,
	}
	if lead.NextActionSuggestion != "" {
		m["next_action_suggestion"] = lead.NextActionSuggestion
	}
	return m
}

// StaticDirectory answers every tenant with the same company profile.
type StaticDirectory struct {
	Company models.CompanyData
}

func (d StaticDirectory) Lookup(_ context.Context, _ string) (models.CompanyData, error) {
	return d.Company, nil
}
