// Package templates implements the Template Resolution Engine: versioned,
// tenant-scoped templates with typed {{placeholders}}, and best-effort
// resolution against custom, lead and company data.
package templates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/message"

	"github.com/fleetflow/outreach/control-plane/internal/metrics"
	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// maxUpdateAttempts bounds the compare-and-increment retry loop.
const maxUpdateAttempts = 32

// Engine owns template CRUD and resolution for all tenants.
type Engine struct {
	repo  store.TemplateRepository
	rules *predicates
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a template engine over the given repository.
func NewEngine(repo store.TemplateRepository, opts ...Option) *Engine {
	e := &Engine{repo: repo, rules: newPredicates(), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ── CRUD ────────────────────────────────────────────────────

// Create validates the draft and stores it as version 1.
func (e *Engine) Create(ctx context.Context, tenantID, userID string, d models.TemplateDraft) (*models.Template, error) {
	if err := e.rules.validateDraft(d); err != nil {
		return nil, err
	}
	now := e.now()
	t := &models.Template{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		IsActive:  true,
		Version:   1,
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyDraft(t, d)
	if err := e.repo.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	log.Info().Str("tenant", tenantID).Str("template_id", t.ID).Str("name", t.Name).Msg("Template created")
	return t, nil
}

// Update replaces the writable fields of a template. The version is bumped
// through the repository's compare-and-increment; concurrent updates retry,
// so every successful update gets its own version number.
func (e *Engine) Update(ctx context.Context, tenantID, id string, d models.TemplateDraft) (*models.Template, error) {
	if err := e.rules.validateDraft(d); err != nil {
		return nil, err
	}
	t, err := e.mutate(ctx, tenantID, id, func(t *models.Template) { applyDraft(t, d) })
	if err != nil {
		return nil, err
	}
	log.Info().Str("template_id", id).Int("version", t.Version).Msg("Template updated")
	return t, nil
}

// Deactivate soft-deletes a template. The version still increments.
func (e *Engine) Deactivate(ctx context.Context, tenantID, id string) (*models.Template, error) {
	t, err := e.mutate(ctx, tenantID, id, func(t *models.Template) { t.IsActive = false })
	if err != nil {
		return nil, err
	}
	log.Info().Str("template_id", id).Int("version", t.Version).Msg("Template deactivated")
	return t, nil
}

func (e *Engine) mutate(ctx context.Context, tenantID, id string, fn func(*models.Template)) (*models.Template, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := e.Get(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		expected := current.Version
		fn(current)
		current.UpdatedAt = e.now()
		err = e.repo.UpdateTemplate(ctx, current, expected)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, fmt.Errorf("update template: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("update template %s: %w", id, models.ErrVersionConflict)
}

func applyDraft(t *models.Template, d models.TemplateDraft) {
	t.Name = strings.TrimSpace(d.Name)
	t.Description = d.Description
	t.Category = d.Category
	if t.Category == "" {
		t.Category = models.CategoryEmail
	}
	t.Subject = d.Subject
	t.Content = d.Content
	t.Variables = append([]models.TemplateVariable(nil), d.Variables...)
	t.Tags = append([]string(nil), d.Tags...)
	t.Metadata = d.Metadata
}

// Get returns a template owned by tenantID.
func (e *Engine) Get(ctx context.Context, tenantID, id string) (*models.Template, error) {
	t, err := e.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.TenantID != tenantID {
		return nil, fmt.Errorf("template %s: %w", id, models.ErrUnauthorized)
	}
	return t, nil
}

func (e *Engine) List(ctx context.Context, tenantID string, filter models.TemplateFilter) ([]models.Template, error) {
	return e.repo.ListTemplates(ctx, tenantID, filter)
}

// ── Resolution ──────────────────────────────────────────────

// Resolve renders a stored template against tctx and records the usage.
// Unknown or cross-tenant ids are hard errors; everything else is reported
// as missing variables or warnings alongside the best-effort content.
func (e *Engine) Resolve(ctx context.Context, tenantID, templateID string, tctx models.TemplateContext) (*models.Resolution, error) {
	t, err := e.Get(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if tctx.TenantID == "" {
		tctx.TenantID = tenantID
	}
	res := e.render(t, tctx)
	if !t.IsActive {
		res.Warnings = append(res.Warnings, "template is inactive")
	}

	if err := e.repo.TouchTemplate(ctx, t.ID, e.now()); err != nil {
		log.Warn().Err(err).Str("template_id", t.ID).Msg("Failed to record template usage")
	}

	outcome := "complete"
	if len(res.MissingRequired) > 0 {
		outcome = "missing_required"
		log.Warn().
			Str("template_id", t.ID).
			Strs("missing", res.MissingRequired).
			Msg("Template resolved with missing required variables")
	}
	metrics.TemplateResolutions.WithLabelValues(outcome).Inc()
	return res, nil
}

// Preview validates and renders an unsaved draft without touching counters.
func (e *Engine) Preview(_ context.Context, tenantID string, d models.TemplateDraft, tctx models.TemplateContext) (*models.Resolution, error) {
	if err := e.rules.validateDraft(d); err != nil {
		return nil, err
	}
	if tctx.TenantID == "" {
		tctx.TenantID = tenantID
	}
	t := &models.Template{TenantID: tenantID, IsActive: true}
	applyDraft(t, d)
	return e.render(t, tctx), nil
}

func (e *Engine) render(t *models.Template, tctx models.TemplateContext) *models.Resolution {
	if tctx.Timestamp.IsZero() {
		tctx.Timestamp = e.now()
	}
	tag := parseLanguage(tctx.Language)
	printer := message.NewPrinter(tag)
	system := systemValues(tctx, tag)

	res := &models.Resolution{
		TemplateID:      t.ID,
		Version:         t.Version,
		MissingRequired: []string{},
		Warnings:        []string{},
	}
	values := make(map[string]string, len(t.Variables))
	declared := make(map[string]bool, len(t.Variables))

	for _, v := range t.Variables {
		declared[v.Name] = true

		raw, found := firstHit(v.Name, tctx.CustomData, tctx.LeadData, tctx.CompanyData)
		if !found {
			// System values arrive preformatted.
			if s, ok := system[v.Name]; ok {
				values[v.Name] = s
				continue
			}
		}
		if !found && v.DefaultValue != nil {
			raw, found = v.DefaultValue, true
			res.Warnings = append(res.Warnings, fmt.Sprintf("variable %q not provided, using default", v.Name))
		}
		if !found {
			if v.Required {
				res.MissingRequired = append(res.MissingRequired, v.Name)
				continue
			}
			values[v.Name] = ""
			res.Warnings = append(res.Warnings, fmt.Sprintf("optional variable %q not provided, left empty", v.Name))
			continue
		}

		text, value, warning := formatValue(v, raw, printer, tag)
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
		res.Warnings = append(res.Warnings, e.rules.check(v, raw, value, text)...)
		values[v.Name] = text
	}

	res.Subject = substitute(t.Subject, values)
	res.Content = substitute(t.Content, values)

	for _, text := range []string{t.Subject, t.Content} {
		for _, name := range ExtractPlaceholders(text) {
			if !declared[name] {
				res.Warnings = append(res.Warnings, fmt.Sprintf("placeholder {{%s}} has no declared variable", name))
			}
		}
	}
	return res
}

// firstHit walks the sources in resolution order.
func firstHit(name string, sources ...map[string]interface{}) (interface{}, bool) {
	for _, src := range sources {
		if v, ok := lookup(src, name); ok {
			return v, true
		}
	}
	return nil, false
}

// ── Selection ───────────────────────────────────────────────

// SelectForChannel picks the best active template of a category for a lead.
// A template whose industry matches the lead wins, then one tagged with the
// lead's urgency, then the oldest active template.
func (e *Engine) SelectForChannel(ctx context.Context, tenantID string, category models.TemplateCategory, lead *models.LeadIntelligence) (*models.Template, error) {
	candidates, err := e.repo.ListTemplates(ctx, tenantID, models.TemplateFilter{Category: category, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no active %s templates: %w", category, models.ErrNotFound)
	}
	if lead == nil {
		return &candidates[0], nil
	}

	score := func(t *models.Template) int {
		s := 0
		if lead.Industry != "" && strings.EqualFold(t.Metadata.Industry, lead.Industry) {
			s += 2
		}
		for _, tag := range t.Tags {
			if strings.EqualFold(tag, string(lead.Urgency)) {
				s++
				break
			}
		}
		return s
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return score(&candidates[i]) > score(&candidates[j])
	})
	return &candidates[0], nil
}
