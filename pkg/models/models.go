package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ── Agent ────────────────────────────────────────────────────

// Voice is the tone an agent writes and speaks in.
type Voice string

const (
	VoiceProfessional Voice = "professional"
	VoiceFriendly     Voice = "friendly"
	VoiceAggressive   Voice = "aggressive"
	VoiceTechnical    Voice = "technical"
)

// Capabilities toggles which outbound channels an agent may automate.
type Capabilities struct {
	EmailAutomation       bool `json:"email_automation"`
	CallAutomation        bool `json:"call_automation"`
	SocialMediaAutomation bool `json:"social_media_automation"`
	TextMessageAutomation bool `json:"text_message_automation"`
}

// BusinessWindow is one weekday's execution window. Start and End are "HH:MM".
type BusinessWindow struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}

// Weekdays lists business-hours keys indexed by time.Weekday.
var Weekdays = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

type AgentSettings struct {
	Voice               Voice                     `json:"voice"`
	AutoResponseEnabled bool                      `json:"auto_response_enabled"`
	AutoCallingEnabled  bool                      `json:"auto_calling_enabled"`
	MaxDailyCalls       int                       `json:"max_daily_calls"`
	BusinessHours       map[string]BusinessWindow `json:"business_hours"`
	Timezone            string                    `json:"timezone"`
	ResponseTimeTarget  int                       `json:"response_time_target"` // seconds
	EscalationThreshold int                       `json:"escalation_threshold"` // lead score for human handoff
}

type Integrations struct {
	CRM          bool `json:"crm"`
	FMCSA        bool `json:"fmcsa"`
	Weather      bool `json:"weather"`
	ExchangeRate bool `json:"exchange_rate"`
	Twilio       bool `json:"twilio"`
	SendGrid     bool `json:"sendgrid"`
	LinkedIn     bool `json:"linkedin"`
	Facebook     bool `json:"facebook"`
	BillCom      bool `json:"bill_com"`
}

// AgentConfig is one automation profile for a tenant/contractor pair.
// Agents are never deleted, only deactivated.
type AgentConfig struct {
	TenantID     string            `json:"tenant_id"`
	AgentID      string            `json:"agent_id"`
	ContractorID string            `json:"contractor_id"`
	Name         string            `json:"name"`
	Capabilities Capabilities      `json:"capabilities"`
	Settings     AgentSettings     `json:"settings"`
	Integrations Integrations      `json:"integrations"`
	Credentials  map[string]string `json:"credentials,omitempty"`
	IsActive     bool              `json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// DefaultBusinessHours is Monday–Friday 09:00–17:00 with weekends disabled.
func DefaultBusinessHours() map[string]BusinessWindow {
	hours := make(map[string]BusinessWindow, 7)
	for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		hours[day] = BusinessWindow{Start: "09:00", End: "17:00", Enabled: true}
	}
	hours["saturday"] = BusinessWindow{Start: "09:00", End: "12:00", Enabled: false}
	hours["sunday"] = BusinessWindow{Start: "09:00", End: "12:00", Enabled: false}
	return hours
}

// NewAgentConfig returns an agent with the platform defaults applied.
func NewAgentConfig(tenantID, agentID, contractorID string, now time.Time) *AgentConfig {
	return &AgentConfig{
		TenantID:     tenantID,
		AgentID:      agentID,
		ContractorID: contractorID,
		Name:         contractorID + " AI Assistant",
		Capabilities: Capabilities{EmailAutomation: true},
		Settings: AgentSettings{
			Voice:               VoiceProfessional,
			AutoResponseEnabled: true,
			AutoCallingEnabled:  false,
			MaxDailyCalls:       25,
			BusinessHours:       DefaultBusinessHours(),
			Timezone:            "UTC",
			ResponseTimeTarget:  300,
			EscalationThreshold: 85,
		},
		Integrations: Integrations{
			CRM:          true,
			FMCSA:        true,
			Weather:      true,
			ExchangeRate: true,
			BillCom:      true,
		},
		Credentials: map[string]string{},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AgentPatch is a partial update. Nil fields are left untouched.
// Identity fields (tenant, agent id, contractor) cannot be patched.
type AgentPatch struct {
	Name         *string            `json:"name,omitempty"`
	Capabilities *CapabilitiesPatch `json:"capabilities,omitempty"`
	Settings     *SettingsPatch     `json:"settings,omitempty"`
	Integrations *Integrations      `json:"integrations,omitempty"`
	Credentials  map[string]string  `json:"credentials,omitempty"`
	IsActive     *bool              `json:"is_active,omitempty"`
}

type CapabilitiesPatch struct {
	EmailAutomation       *bool `json:"email_automation,omitempty"`
	CallAutomation        *bool `json:"call_automation,omitempty"`
	SocialMediaAutomation *bool `json:"social_media_automation,omitempty"`
	TextMessageAutomation *bool `json:"text_message_automation,omitempty"`
}

type SettingsPatch struct {
	Voice               *Voice                    `json:"voice,omitempty"`
	AutoResponseEnabled *bool                     `json:"auto_response_enabled,omitempty"`
	AutoCallingEnabled  *bool                     `json:"auto_calling_enabled,omitempty"`
	MaxDailyCalls       *int                      `json:"max_daily_calls,omitempty"`
	BusinessHours       map[string]BusinessWindow `json:"business_hours,omitempty"`
	Timezone            *string                   `json:"timezone,omitempty"`
	ResponseTimeTarget  *int                      `json:"response_time_target,omitempty"`
	EscalationThreshold *int                      `json:"escalation_threshold,omitempty"`
}

// Apply merges the patch into cfg. Business hours merge per weekday.
func (p *AgentPatch) Apply(cfg *AgentConfig) {
	if p == nil {
		return
	}
	if p.Name != nil {
		cfg.Name = *p.Name
	}
	if c := p.Capabilities; c != nil {
		setBool(&cfg.Capabilities.EmailAutomation, c.EmailAutomation)
		setBool(&cfg.Capabilities.CallAutomation, c.CallAutomation)
		setBool(&cfg.Capabilities.SocialMediaAutomation, c.SocialMediaAutomation)
		setBool(&cfg.Capabilities.TextMessageAutomation, c.TextMessageAutomation)
	}
	if s := p.Settings; s != nil {
		if s.Voice != nil {
			cfg.Settings.Voice = *s.Voice
		}
		setBool(&cfg.Settings.AutoResponseEnabled, s.AutoResponseEnabled)
		setBool(&cfg.Settings.AutoCallingEnabled, s.AutoCallingEnabled)
		setInt(&cfg.Settings.MaxDailyCalls, s.MaxDailyCalls)
		setInt(&cfg.Settings.ResponseTimeTarget, s.ResponseTimeTarget)
		setInt(&cfg.Settings.EscalationThreshold, s.EscalationThreshold)
		if s.Timezone != nil {
			cfg.Settings.Timezone = *s.Timezone
		}
		if len(s.BusinessHours) > 0 {
			if cfg.Settings.BusinessHours == nil {
				cfg.Settings.BusinessHours = make(map[string]BusinessWindow)
			}
			for day, w := range s.BusinessHours {
				cfg.Settings.BusinessHours[strings.ToLower(day)] = w
			}
		}
	}
	if p.Integrations != nil {
		cfg.Integrations = *p.Integrations
	}
	if len(p.Credentials) > 0 {
		if cfg.Credentials == nil {
			cfg.Credentials = make(map[string]string)
		}
		for k, v := range p.Credentials {
			cfg.Credentials[k] = v
		}
	}
	setBool(&cfg.IsActive, p.IsActive)
}

// Clone returns a copy that shares no maps with c.
func (c *AgentConfig) Clone() *AgentConfig {
	out := *c
	out.Settings.BusinessHours = make(map[string]BusinessWindow, len(c.Settings.BusinessHours))
	for k, v := range c.Settings.BusinessHours {
		out.Settings.BusinessHours[k] = v
	}
	out.Credentials = make(map[string]string, len(c.Credentials))
	for k, v := range c.Credentials {
		out.Credentials[k] = v
	}
	return &out
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// ── Lead ─────────────────────────────────────────────────────

// LeadData is a raw inbound lead as received from a form, import or webhook.
type LeadData struct {
	Source   string                 `json:"source"`
	Name     string                 `json:"name"`
	Company  string                 `json:"company,omitempty"`
	Email    string                 `json:"email,omitempty"`
	Phone    string                 `json:"phone,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Location string                 `json:"location,omitempty"`
	Message  string                 `json:"message,omitempty"`
	FormData map[string]interface{} `json:"form_data,omitempty"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Intent string

const (
	IntentHigh   Intent = "high"
	IntentMedium Intent = "medium"
	IntentLow    Intent = "low"
)

// Urgency shares its vocabulary with Priority.
type Urgency string

const (
	UrgencyUrgent Urgency = "urgent"
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

type RelationshipStage string

const (
	StageCold     RelationshipStage = "cold"
	StageWarm     RelationshipStage = "warm"
	StageHot      RelationshipStage = "hot"
	StageCustomer RelationshipStage = "customer"
)

type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelPhone  Channel = "phone"
	ChannelText   Channel = "text"
	ChannelSocial Channel = "social"
)

// EnrichedProfile is what the enrichment collaborator returns. On failure it
// echoes the input fields and leaves the rest empty.
type EnrichedProfile struct {
	Name          string                 `json:"name"`
	Email         string                 `json:"email,omitempty"`
	Phone         string                 `json:"phone,omitempty"`
	Company       string                 `json:"company,omitempty"`
	Title         string                 `json:"title,omitempty"`
	Location      string                 `json:"location,omitempty"`
	Source        string                 `json:"source,omitempty"`
	Message       string                 `json:"message,omitempty"`
	Industry      string                 `json:"industry,omitempty"`
	CompanySize   string                 `json:"company_size,omitempty"`
	Revenue       string                 `json:"revenue,omitempty"`
	DecisionMaker bool                   `json:"decision_maker"`
	EmailValid    *bool                  `json:"email_valid,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// Analysis is the AI-analysis collaborator's verdict on an enriched profile.
type Analysis struct {
	LeadScore            int               `json:"lead_score"`
	Sentiment            Sentiment         `json:"sentiment"`
	Intent               Intent            `json:"intent"`
	Urgency              Urgency           `json:"urgency"`
	PreferredChannel     Channel           `json:"preferred_channel,omitempty"`
	BestContactTime      string            `json:"best_contact_time,omitempty"`
	EquipmentNeeds       []string          `json:"equipment_needs,omitempty"`
	RoutePreferences     []string          `json:"route_preferences,omitempty"`
	RateExpectations     *float64          `json:"rate_expectations,omitempty"`
	NextActionSuggestion string            `json:"next_action_suggestion,omitempty"`
	Insights             map[string]string `json:"insights,omitempty"`
}

// LeadIntelligence is the scored view of a lead, scoped to one tenant.
type LeadIntelligence struct {
	LeadID   string `json:"lead_id"`
	TenantID string `json:"tenant_id"`
	Source   string `json:"source,omitempty"`

	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Title   string `json:"title,omitempty"`

	LeadScore int       `json:"lead_score"` // 0-100
	Sentiment Sentiment `json:"sentiment"`
	Intent    Intent    `json:"intent"`
	Urgency   Urgency   `json:"urgency"`

	Industry      string `json:"industry,omitempty"`
	CompanySize   string `json:"company_size,omitempty"`
	Revenue       string `json:"revenue,omitempty"`
	DecisionMaker bool   `json:"decision_maker"`

	FreightHistory   []map[string]interface{} `json:"freight_history,omitempty"`
	EquipmentNeeds   []string                 `json:"equipment_needs,omitempty"`
	RoutePreferences []string                 `json:"route_preferences,omitempty"`
	RateExpectations *float64                 `json:"rate_expectations,omitempty"`

	PreferredChannel Channel `json:"preferred_channel"`
	BestContactTime  string  `json:"best_contact_time,omitempty"`

	RelationshipStage    RelationshipStage `json:"relationship_stage"`
	LastInteraction      *time.Time        `json:"last_interaction,omitempty"`
	NextActionSuggestion string            `json:"next_action_suggestion,omitempty"`

	Tags     []string          `json:"tags,omitempty"`
	Insights map[string]string `json:"insights,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// LeadFilter narrows ListLeadIntelligence. Zero values match everything.
type LeadFilter struct {
	MinScore  *int              `json:"min_score,omitempty"`
	MaxScore  *int              `json:"max_score,omitempty"`
	Sentiment Sentiment         `json:"sentiment,omitempty"`
	Intent    Intent            `json:"intent,omitempty"`
	Stage     RelationshipStage `json:"stage,omitempty"`
}

// Match reports whether the lead passes every set criterion.
func (f LeadFilter) Match(l *LeadIntelligence) bool {
	if f.MinScore != nil && l.LeadScore < *f.MinScore {
		return false
	}
	if f.MaxScore != nil && l.LeadScore > *f.MaxScore {
		return false
	}
	if f.Sentiment != "" && l.Sentiment != f.Sentiment {
		return false
	}
	if f.Intent != "" && l.Intent != f.Intent {
		return false
	}
	if f.Stage != "" && l.RelationshipStage != f.Stage {
		return false
	}
	return true
}

// CompanyData is the tenant's own company profile used in outbound content.
type CompanyData struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// ── Action ───────────────────────────────────────────────────

type ActionType string

const (
	ActionEmail        ActionType = "email"
	ActionCall         ActionType = "call"
	ActionSocialPost   ActionType = "social_post"
	ActionTextMessage  ActionType = "text_message"
	ActionCRMUpdate    ActionType = "crm_update"
	ActionDataResearch ActionType = "data_research"
)

// AllActionTypes is the closed set of action variants.
var AllActionTypes = []ActionType{
	ActionEmail, ActionCall, ActionSocialPost, ActionTextMessage, ActionCRMUpdate, ActionDataResearch,
}

// Valid reports whether t is one of AllActionTypes.
func (t ActionType) Valid() bool {
	for _, v := range AllActionTypes {
		if v == t {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities: lower rank drains first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
	ActionCancelled  ActionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionFailed || s == ActionCancelled
}

// ActionContext is captured when the action is derived and never mutated.
type ActionContext struct {
	LeadData            *LeadIntelligence        `json:"lead_data"`
	CompanyData         CompanyData              `json:"company_data"`
	ConversationHistory []map[string]interface{} `json:"conversation_history"`
	AIInsights          map[string]interface{}   `json:"ai_insights"`
}

// Clone returns a deep copy so queue entries never share mutable state.
func (c ActionContext) Clone() ActionContext {
	raw, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var out ActionContext
	if err := json.Unmarshal(raw, &out); err != nil {
		return c
	}
	if out.ConversationHistory == nil {
		out.ConversationHistory = []map[string]interface{}{}
	}
	if out.AIInsights == nil {
		out.AIInsights = map[string]interface{}{}
	}
	return out
}

// AgentAction is one derived unit of outbound work.
type AgentAction struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	AgentID       string        `json:"agent_id"`
	ActionType    ActionType    `json:"action_type"`
	TargetID      string        `json:"target_id"`
	TemplateID    string        `json:"template_id,omitempty"`
	CustomContent string        `json:"custom_content,omitempty"`
	ScheduledFor  *time.Time    `json:"scheduled_for,omitempty"`
	Priority      Priority      `json:"priority"`
	Context       ActionContext `json:"context"`

	Status       ActionStatus  `json:"status"`
	ExecutedAt   *time.Time    `json:"executed_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Result       *ActionResult `json:"result,omitempty"`
	Error        string        `json:"error,omitempty"`
	ResponseTime *int64        `json:"response_time_ms,omitempty"`
	Attempts     int           `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the action, including its context snapshot.
func (a *AgentAction) Clone() *AgentAction {
	raw, err := json.Marshal(a)
	if err != nil {
		out := *a
		return &out
	}
	var out AgentAction
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *a
		return &cp
	}
	return &out
}

// ActionResult is the uniform envelope every channel handler returns.
type ActionResult struct {
	Outcome    string                 `json:"outcome"`
	TemplateID string                 `json:"template_id,omitempty"`
	ExternalID string                 `json:"external_id,omitempty"`
	Sentiment  *float64               `json:"sentiment,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// ActionFilter narrows ListActions. Empty Status matches all.
type ActionFilter struct {
	Status ActionStatus
	Limit  int
}

// ── Outcome ──────────────────────────────────────────────────

// Interaction is the tuple handed to the outcome recorder after a completed action.
type Interaction struct {
	ID                  string            `json:"id"`
	TenantID            string            `json:"tenant_id"`
	AgentID             string            `json:"agent_id"`
	ActionID            string            `json:"action_id"`
	Type                string            `json:"type"`
	LeadID              string            `json:"lead_id"`
	LeadData            *LeadIntelligence `json:"lead_data,omitempty"`
	TemplateUsed        string            `json:"template_used,omitempty"`
	ResponseTimeSeconds float64           `json:"response_time_seconds"`
	Outcome             string            `json:"outcome"`
	Sentiment           *float64          `json:"sentiment,omitempty"`
	RecordedAt          time.Time         `json:"recorded_at"`
}

// AgentMetrics summarizes one agent's interactions for a day.
type AgentMetrics struct {
	TenantID          string    `json:"tenant_id"`
	AgentID           string    `json:"agent_id"`
	Timeframe         string    `json:"timeframe"`
	TotalInteractions int       `json:"total_interactions"`
	EmailsSent        int       `json:"emails_sent"`
	CallsMade         int       `json:"calls_made"`
	SocialMediaPosts  int       `json:"social_media_posts"`
	TextMessagesSent  int       `json:"text_messages_sent"`
	CRMUpdates        int       `json:"crm_updates"`
	Research          int       `json:"research"`
	AvgResponseTime   float64   `json:"avg_response_time"` // seconds
	SentimentScore    float64   `json:"sentiment_score"`   // -1..1
	Timestamp         time.Time `json:"timestamp"`
}

// AgentStatusReport is what getAgentStatus returns.
type AgentStatusReport struct {
	Config         *AgentConfig  `json:"config"`
	QueueDepth     int           `json:"queue_depth"`
	InFlight       int           `json:"in_flight"`
	RecentActivity []Interaction `json:"recent_activity"`
	Metrics        *AgentMetrics `json:"metrics,omitempty"`
}
