// Package contracts defines the collaborator interfaces of the outreach
// control plane.
//
// Everything the pipeline talks to outside its own process sits behind one
// of these interfaces: lead enrichment, AI analysis, the six delivery
// channels, the outcome recorder, the tenant company directory and the
// daily call counter. The default implementations live under internal/;
// wiring code in pkg/server picks them, so swapping a placeholder channel
// for a real provider is a single line change.
package contracts

import (
	"context"
	"time"

	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Store is a type alias for the internal Store interface.
// Exposed in pkg/ so embedding programs can supply their own repositories
// without importing internal/ directly.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Lead intelligence ───────────────────────────────────────

// Enricher turns raw lead fields into an enriched profile.
// Implementations should degrade to echoing the input; the scorer also
// guards against errors and timeouts.
type Enricher interface {
	Enrich(ctx context.Context, tenantID string, lead models.LeadData) (*models.EnrichedProfile, error)
}

// Analyzer classifies an enriched profile. Latency budget: the scorer
// cancels the call after its configured timeout (5s by default) and falls
// back to neutral defaults.
type Analyzer interface {
	Analyze(ctx context.Context, tenantID string, profile *models.EnrichedProfile) (*models.Analysis, error)
}

// CompanyDirectory returns the tenant's own company profile.
type CompanyDirectory interface {
	Lookup(ctx context.Context, tenantID string) (models.CompanyData, error)
}

// ── Channels ────────────────────────────────────────────────

// DeliveryReceipt is what every channel collaborator returns.
type DeliveryReceipt struct {
	Success   bool                   `json:"success"`
	ID        string                 `json:"id"`
	Status    string                 `json:"status,omitempty"`
	Sentiment *float64               `json:"sentiment,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Envelope fields shared by every channel payload.
type Envelope struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
	ActionID string `json:"action_id"`
	LeadID   string `json:"lead_id"`
}

type EmailMessage struct {
	Envelope
	To         string `json:"to"`
	ToName     string `json:"to_name,omitempty"`
	From       string `json:"from,omitempty"`
	FromName   string `json:"from_name,omitempty"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	TemplateID string `json:"template_id,omitempty"`
}

type CallRequest struct {
	Envelope
	To       string       `json:"to"`
	LeadName string       `json:"lead_name"`
	Script   string       `json:"script"`
	Voice    models.Voice `json:"voice"`
}

type SocialPost struct {
	Envelope
	Platform string `json:"platform"`
	Content  string `json:"content"`
	Company  string `json:"company,omitempty"`
}

type TextMessage struct {
	Envelope
	To   string `json:"to"`
	Body string `json:"body"`
}

// CRMRecord is the normalized lead record pushed to the CRM.
type CRMRecord struct {
	Envelope
	Name       string                   `json:"name"`
	Company    string                   `json:"company,omitempty"`
	Email      string                   `json:"email,omitempty"`
	Phone      string                   `json:"phone,omitempty"`
	LeadScore  int                      `json:"lead_score"`
	Sentiment  models.Sentiment         `json:"sentiment"`
	Intent     models.Intent            `json:"intent"`
	Urgency    models.Urgency           `json:"urgency"`
	Stage      models.RelationshipStage `json:"stage"`
	NextAction string                   `json:"next_action,omitempty"`
	Tags       []string                 `json:"tags,omitempty"`
}

type ResearchRequest struct {
	Envelope
	Name    string   `json:"name"`
	Company string   `json:"company,omitempty"`
	Email   string   `json:"email,omitempty"`
	Topics  []string `json:"topics,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg *EmailMessage) (*DeliveryReceipt, error)
}

type Caller interface {
	PlaceCall(ctx context.Context, req *CallRequest) (*DeliveryReceipt, error)
}

type SocialPoster interface {
	PostSocial(ctx context.Context, post *SocialPost) (*DeliveryReceipt, error)
}

type TextSender interface {
	SendText(ctx context.Context, msg *TextMessage) (*DeliveryReceipt, error)
}

type CRMUpdater interface {
	UpdateCRM(ctx context.Context, rec *CRMRecord) (*DeliveryReceipt, error)
}

type Researcher interface {
	Research(ctx context.Context, req *ResearchRequest) (*DeliveryReceipt, error)
}

// Channels bundles one collaborator per action type.
type Channels struct {
	Email    EmailSender
	Call     Caller
	Social   SocialPoster
	Text     TextSender
	CRM      CRMUpdater
	Research Researcher
}

// ── Outcomes and quotas ─────────────────────────────────────

// OutcomeRecorder ingests one tuple per completed action.
type OutcomeRecorder interface {
	Record(ctx context.Context, tenantID, agentID string, in models.Interaction) error
}

// CallCounter tracks calls per agent per day.
type CallCounter interface {
	// TryIncrement reserves one call for agentID on day if fewer than max
	// have been made, returning the new count. At the cap it returns
	// models.ErrQuotaExceeded and leaves the counter unchanged.
	TryIncrement(ctx context.Context, agentID string, day time.Time, max int) (int, error)

	// Count returns the calls already made for agentID on day.
	Count(ctx context.Context, agentID string, day time.Time) (int, error)

	// Release returns a slot reserved by TryIncrement for a call that never
	// went out. The count never drops below zero.
	Release(ctx context.Context, agentID string, day time.Time) error
}
