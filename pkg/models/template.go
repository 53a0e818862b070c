package models

import "time"

// ── Template ─────────────────────────────────────────────────

type TemplateCategory string

const (
	CategoryEmail      TemplateCategory = "email"
	CategorySMS        TemplateCategory = "sms"
	CategoryCallScript TemplateCategory = "call_script"
	CategorySocial     TemplateCategory = "social"
	CategoryProposal   TemplateCategory = "proposal"
	CategoryFollowUp   TemplateCategory = "follow_up"
)

// Valid reports whether c is a known category.
func (c TemplateCategory) Valid() bool {
	switch c {
	case CategoryEmail, CategorySMS, CategoryCallScript, CategorySocial, CategoryProposal, CategoryFollowUp:
		return true
	}
	return false
}

type VariableType string

const (
	VarString  VariableType = "string"
	VarNumber  VariableType = "number"
	VarDate    VariableType = "date"
	VarBoolean VariableType = "boolean"
	VarSelect  VariableType = "select"
)

// VariableValidation constrains a resolved value. Custom is an expr-lang
// boolean expression over {value, raw, name}.
type VariableValidation struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Custom  string   `json:"custom,omitempty" yaml:"custom,omitempty"`
}

type TemplateVariable struct {
	Name         string              `json:"name" yaml:"name"`
	Type         VariableType        `json:"type" yaml:"type"`
	Required     bool                `json:"required" yaml:"required"`
	DefaultValue interface{}         `json:"default_value,omitempty" yaml:"default,omitempty"`
	Description  string              `json:"description,omitempty" yaml:"description,omitempty"`
	Options      []string            `json:"options,omitempty" yaml:"options,omitempty"`
	Validation   *VariableValidation `json:"validation,omitempty" yaml:"validation,omitempty"`
}

type TemplateMetadata struct {
	Tone     string `json:"tone,omitempty" yaml:"tone,omitempty"`
	Industry string `json:"industry,omitempty" yaml:"industry,omitempty"`
	UseCase  string `json:"use_case,omitempty" yaml:"use_case,omitempty"`
}

// Template is a versioned, tenant-owned content body with typed placeholders.
type Template struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Category    TemplateCategory   `json:"category"`
	Subject     string             `json:"subject,omitempty"`
	Content     string             `json:"content"`
	Variables   []TemplateVariable `json:"variables"`
	IsActive    bool               `json:"is_active"`
	Version     int                `json:"version"`
	Tags        []string           `json:"tags,omitempty"`
	Metadata    TemplateMetadata   `json:"metadata"`
	UsageCount  int64              `json:"usage_count"`
	LastUsedAt  *time.Time         `json:"last_used_at,omitempty"`
	CreatedBy   string             `json:"created_by,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// TemplateDraft is the writable subset used for create, update and preview.
type TemplateDraft struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Category    TemplateCategory   `json:"category" yaml:"category"`
	Subject     string             `json:"subject,omitempty" yaml:"subject,omitempty"`
	Content     string             `json:"content" yaml:"content"`
	Variables   []TemplateVariable `json:"variables" yaml:"variables"`
	Tags        []string           `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata    TemplateMetadata   `json:"metadata" yaml:"metadata"`
}

// TemplateFilter narrows template listings. Zero values match everything.
type TemplateFilter struct {
	Category   TemplateCategory
	ActiveOnly bool
	Tag        string
}

// TemplateContext supplies the three data sources and system values for resolution.
type TemplateContext struct {
	TenantID    string                 `json:"tenant_id"`
	UserID      string                 `json:"user_id"`
	CustomData  map[string]interface{} `json:"custom_data,omitempty"`
	LeadData    map[string]interface{} `json:"lead_data,omitempty"`
	CompanyData map[string]interface{} `json:"company_data,omitempty"`
	Language    string                 `json:"language,omitempty"` // BCP 47, default "en-US"
	Timestamp   time.Time              `json:"timestamp"`
}

// Resolution is the best-effort rendering of a template.
type Resolution struct {
	TemplateID      string   `json:"template_id"`
	Version         int      `json:"version"`
	Subject         string   `json:"subject,omitempty"`
	Content         string   `json:"content"`
	MissingRequired []string `json:"missing_required"`
	Warnings        []string `json:"warnings"`
}
