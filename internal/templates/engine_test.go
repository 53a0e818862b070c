package templates_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/internal/templates"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

var fixedNow = time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*templates.Engine, store.Store) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return templates.NewEngine(s, templates.WithClock(func() time.Time { return fixedNow })), s
}

func freightDraft() models.TemplateDraft {
	return models.TemplateDraft{
		Name:     "Freight inquiry reply",
		Category: models.CategoryEmail,
		Subject:  "Re: {{ company_name }}",
		Content:  "Hi {{name}}, thanks for reaching out to {{company_name}}. Budget: ${{budget}}. Pickup {{pickup_date}}. Hazmat: {{hazmat}}.",
		Variables: []models.TemplateVariable{
			{Name: "name", Type: models.VarString, Required: true},
			{Name: "company_name", Type: models.VarString, Required: true},
			{Name: "budget", Type: models.VarNumber},
			{Name: "pickup_date", Type: models.VarDate},
			{Name: "hazmat", Type: models.VarBoolean, DefaultValue: false},
		},
	}
}

func TestCreateValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		draft models.TemplateDraft
		issue string
	}{
		{"missing name", models.TemplateDraft{Content: "hi"}, "name is required"},
		{"missing content", models.TemplateDraft{Name: "x"}, "content is required"},
		{"empty placeholder", models.TemplateDraft{Name: "x", Content: "hi {{ }}"}, "empty placeholder"},
		{"undeclared placeholder", models.TemplateDraft{Name: "x", Content: "hi {{who}}"}, "{{who}} is not declared"},
		{"duplicate variable", models.TemplateDraft{Name: "x", Content: "{{a}}", Variables: []models.TemplateVariable{
			{Name: "a", Type: models.VarString}, {Name: "a", Type: models.VarString},
		}}, `duplicate variable "a"`},
		{"select without options", models.TemplateDraft{Name: "x", Content: "{{a}}", Variables: []models.TemplateVariable{
			{Name: "a", Type: models.VarSelect},
		}}, "has no options"},
		{"bad custom rule", models.TemplateDraft{Name: "x", Content: "{{a}}", Variables: []models.TemplateVariable{
			{Name: "a", Type: models.VarNumber, Validation: &models.VariableValidation{Custom: "value >"}},
		}}, "invalid custom rule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Create(ctx, "t1", "u1", tt.draft)
			require.ErrorIs(t, err, models.ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.issue)
		})
	}
}

func TestResolveRoundTrip(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	tmpl, err := e.Create(ctx, "t1", "u1", freightDraft())
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.Version)

	res, err := e.Resolve(ctx, "t1", tmpl.ID, models.TemplateContext{
		UserID:      "u1",
		LeadData:    map[string]interface{}{"name": "Dana", "budget": 12500, "pickupDate": "2025-03-10"},
		CompanyData: map[string]interface{}{"company_name": "FleetFlow"},
	})
	require.NoError(t, err)

	assert.Empty(t, res.MissingRequired)
	for _, w := range res.Warnings {
		assert.NotContains(t, w, "no declared variable")
	}
	assert.Equal(t, "Re: FleetFlow", res.Subject)
	assert.Equal(t, "Hi Dana, thanks for reaching out to FleetFlow. Budget: $12,500. Pickup March 10, 2025. Hazmat: No.", res.Content)
	assert.NotContains(t, res.Content, "{{")

	stored, err := s.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsageCount)
	require.NotNil(t, stored.LastUsedAt)
	assert.True(t, stored.LastUsedAt.Equal(fixedNow))
}

func TestResolveOrderCustomBeforeLeadBeforeCompany(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tmpl, err := e.Create(ctx, "t1", "u1", models.TemplateDraft{
		Name:      "order",
		Content:   "{{name}}/{{tenant_id}}/{{current_date}}",
		Variables: []models.TemplateVariable{{Name: "name", Type: models.VarString}, {Name: "tenant_id", Type: models.VarString}, {Name: "current_date", Type: models.VarString}},
	})
	require.NoError(t, err)

	res, err := e.Resolve(ctx, "t1", tmpl.ID, models.TemplateContext{
		CustomData:  map[string]interface{}{"name": "custom"},
		LeadData:    map[string]interface{}{"name": "lead"},
		CompanyData: map[string]interface{}{"name": "company"},
		Timestamp:   fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "custom/t1/March 3, 2025", res.Content)
}

func TestResolveMissingRequiredLeavesPlaceholder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tmpl, err := e.Create(ctx, "t1", "u1", freightDraft())
	require.NoError(t, err)

	res, err := e.Resolve(ctx, "t1", tmpl.ID, models.TemplateContext{
		LeadData: map[string]interface{}{"name": "Dana", "company_name": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"company_name"}, res.MissingRequired)
	assert.Contains(t, res.Content, "{{company_name}}")
	assert.Contains(t, res.Subject, "{{ company_name }}")
	// Optional budget without default substitutes empty with a warning.
	assert.Contains(t, res.Content, "Budget: $.")
	assert.Contains(t, strings.Join(res.Warnings, "\n"), `optional variable "budget"`)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), `variable "hazmat" not provided, using default`)
}

func TestResolveValidationWarnings(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	min := 1000.0
	tmpl, err := e.Create(ctx, "t1", "u1", models.TemplateDraft{
		Name:    "rules",
		Content: "{{rate}} {{zip}} {{equipment}} {{weight}}",
		Variables: []models.TemplateVariable{
			{Name: "rate", Type: models.VarNumber, Validation: &models.VariableValidation{Min: &min}},
			{Name: "zip", Type: models.VarString, Validation: &models.VariableValidation{Pattern: `^\d{5}$`}},
			{Name: "equipment", Type: models.VarSelect, Options: []string{"dry_van", "reefer", "flatbed"}},
			{Name: "weight", Type: models.VarNumber, Validation: &models.VariableValidation{Custom: "value <= 80000"}},
		},
	})
	require.NoError(t, err)

	res, err := e.Resolve(ctx, "t1", tmpl.ID, models.TemplateContext{
		CustomData: map[string]interface{}{"rate": 900, "zip": "ABCDE", "equipment": "tanker", "weight": 90000},
	})
	require.NoError(t, err)

	// Validation never blocks substitution.
	assert.Equal(t, "900 ABCDE tanker 90,000", res.Content)
	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, "below minimum")
	assert.Contains(t, joined, "does not match pattern")
	assert.Contains(t, joined, "not one of the allowed options")
	assert.Contains(t, joined, "custom rule")
}

func TestResolveTenantIsolation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tmpl, err := e.Create(ctx, "t1", "u1", freightDraft())
	require.NoError(t, err)

	_, err = e.Resolve(ctx, "t2", tmpl.ID, models.TemplateContext{})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = e.Resolve(ctx, "t1", "missing", models.TemplateContext{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateVersionMonotonic(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tmpl, err := e.Create(ctx, "t1", "u1", freightDraft())
	require.NoError(t, err)

	const n = 5
	for i := 0; i < n; i++ {
		d := freightDraft()
		d.Description = fmt.Sprintf("rev %d", i)
		updated, err := e.Update(ctx, "t1", tmpl.ID, d)
		require.NoError(t, err)
		assert.Equal(t, i+2, updated.Version)
	}

	got, err := e.Get(ctx, "t1", tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, n+1, got.Version)

	deactivated, err := e.Deactivate(ctx, "t1", tmpl.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
	assert.Equal(t, n+2, deactivated.Version)
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tmpl, err := e.Create(ctx, "t1", "u1", freightDraft())
	require.NoError(t, err)

	const workers = 8
	versions := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := e.Update(ctx, "t1", tmpl.ID, freightDraft())
			if assert.NoError(t, err) {
				versions <- updated.Version
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	got, err := e.Get(ctx, "t1", tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, workers+1, got.Version)
}

func TestPreviewDoesNotTouchCounters(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Preview(ctx, "t1", freightDraft(), models.TemplateContext{
		LeadData: map[string]interface{}{"name": "Dana", "company_name": "Acme"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.MissingRequired)

	list, err := s.ListTemplates(ctx, "t1", models.TemplateFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = e.Preview(ctx, "t1", models.TemplateDraft{Name: "bad", Content: "{{x}}"}, models.TemplateContext{})
	assert.ErrorIs(t, err, models.ErrValidationFailed)
}

func TestSelectForChannel(t *testing.T) {
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	tick := fixedNow
	e := templates.NewEngine(s, templates.WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	ctx := context.Background()

	_, err := e.SelectForChannel(ctx, "t1", models.CategoryEmail, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	generic := freightDraft()
	generic.Name = "generic"
	first, err := e.Create(ctx, "t1", "u1", generic)
	require.NoError(t, err)

	urgent := freightDraft()
	urgent.Name = "urgent"
	urgent.Tags = []string{"urgent"}
	urgentTmpl, err := e.Create(ctx, "t1", "u1", urgent)
	require.NoError(t, err)

	got, err := e.SelectForChannel(ctx, "t1", models.CategoryEmail, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = e.SelectForChannel(ctx, "t1", models.CategoryEmail, &models.LeadIntelligence{Urgency: models.UrgencyUrgent})
	require.NoError(t, err)
	assert.Equal(t, urgentTmpl.ID, got.ID)
}

func TestLoadSeedSkipsExisting(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	seed := []byte(`
templates:
  - name: Freight inquiry reply
    category: email
    subject: "Re: your inquiry"
    content: "Hi {{name}}"
    variables:
      - name: name
        type: string
        required: true
  - name: Text follow-up
    category: sms
    content: "Hi {{name}}, still need capacity?"
    variables:
      - name: name
        type: string
        default: there
`)
	n, err := e.LoadSeed(ctx, seed, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.LoadSeed(ctx, seed, "t1")
	require.NoError(t, err)
	assert.Zero(t, n)

	sms, err := e.List(ctx, "t1", models.TemplateFilter{Category: models.CategorySMS})
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, "there", sms[0].Variables[0].DefaultValue)
}

func TestExtractPlaceholders(t *testing.T) {
	got := templates.ExtractPlaceholders("{{a}} {{ b }} {{a}} {{}} {{c}")
	assert.Equal(t, []string{"a", "b", ""}, got)
}
