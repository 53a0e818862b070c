// Package intel turns raw inbound leads into scored LeadIntelligence records.
//
// Enrichment and analysis are collaborators behind pkg/contracts. The
// scorer validates and normalizes input before calling them, bounds each
// call with a timeout, and degrades to the unenriched fields and neutral
// defaults when either collaborator fails.
package intel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// DefaultTimeout is the per-collaborator latency budget.
const DefaultTimeout = 5 * time.Second

// DefaultLeadScore applies when analysis fails or reports zero.
const DefaultLeadScore = 50

// Scorer implements score(leadData) -> LeadIntelligence.
type Scorer struct {
	enricher contracts.Enricher
	analyzer contracts.Analyzer
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a scorer. A nil enricher echoes the input; a nil analyzer
// yields the neutral defaults.
func NewScorer(enricher contracts.Enricher, analyzer contracts.Analyzer, opts ...Option) *Scorer {
	s := &Scorer{enricher: enricher, analyzer: analyzer, timeout: DefaultTimeout, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Normalize trims every field, lowercases the email and checks that the lead
// can be contacted at all.
func Normalize(lead models.LeadData) (models.LeadData, error) {
	lead.Source = strings.TrimSpace(lead.Source)
	lead.Name = strings.TrimSpace(lead.Name)
	lead.Company = strings.TrimSpace(lead.Company)
	lead.Email = strings.ToLower(strings.TrimSpace(lead.Email))
	lead.Phone = strings.TrimSpace(lead.Phone)
	lead.Title = strings.TrimSpace(lead.Title)
	lead.Location = strings.TrimSpace(lead.Location)
	lead.Message = strings.TrimSpace(lead.Message)

	var issues []string
	if lead.Name == "" && lead.Email == "" && lead.Phone == "" {
		issues = append(issues, "lead needs a name, email or phone")
	}
	if lead.Email != "" && !strings.Contains(lead.Email, "@") {
		issues = append(issues, fmt.Sprintf("malformed email %q", lead.Email))
	}
	if len(issues) > 0 {
		return lead, &models.ValidationError{Issues: issues}
	}
	return lead, nil
}

// Score enriches, analyzes and assembles the intelligence record for one lead.
func (s *Scorer) Score(ctx context.Context, tenantID string, raw models.LeadData) (*models.LeadIntelligence, error) {
	lead, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	profile := s.enrich(ctx, tenantID, lead)
	analysis := s.analyze(ctx, tenantID, profile)

	li := &models.LeadIntelligence{
		LeadID:   uuid.New().String(),
		TenantID: tenantID,
		Source:   lead.Source,

		Name:    firstNonEmpty(profile.Name, lead.Name),
		Company: firstNonEmpty(profile.Company, lead.Company),
		Email:   firstNonEmpty(profile.Email, lead.Email),
		Phone:   firstNonEmpty(profile.Phone, lead.Phone),
		Title:   firstNonEmpty(profile.Title, lead.Title),

		LeadScore: clampScore(analysis.LeadScore),
		Sentiment: analysis.Sentiment,
		Intent:    analysis.Intent,
		Urgency:   analysis.Urgency,

		Industry:      profile.Industry,
		CompanySize:   profile.CompanySize,
		Revenue:       profile.Revenue,
		DecisionMaker: profile.DecisionMaker,

		EquipmentNeeds:   analysis.EquipmentNeeds,
		RoutePreferences: analysis.RoutePreferences,
		RateExpectations: analysis.RateExpectations,

		PreferredChannel: analysis.PreferredChannel,
		BestContactTime:  analysis.BestContactTime,

		RelationshipStage:    models.StageCold,
		NextActionSuggestion: analysis.NextActionSuggestion,

		Tags:     profile.Tags,
		Insights: analysis.Insights,

		UpdatedAt: s.now(),
	}
	return li, nil
}

func (s *Scorer) enrich(ctx context.Context, tenantID string, lead models.LeadData) *models.EnrichedProfile {
	echo := EchoProfile(lead)
	if s.enricher == nil {
		return echo
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	profile, err := callGuarded(cctx, func(c context.Context) (*models.EnrichedProfile, error) {
		return s.enricher.Enrich(c, tenantID, lead)
	})
	if err != nil || profile == nil {
		log.Warn().Err(err).Str("tenant", tenantID).Msg("Lead enrichment failed, using unenriched fields")
		return echo
	}
	return profile
}

func (s *Scorer) analyze(ctx context.Context, tenantID string, profile *models.EnrichedProfile) models.Analysis {
	var a models.Analysis
	if s.analyzer != nil {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		out, err := callGuarded(cctx, func(c context.Context) (*models.Analysis, error) {
			return s.analyzer.Analyze(c, tenantID, profile)
		})
		if err != nil || out == nil {
			log.Warn().Err(err).Str("tenant", tenantID).Msg("Lead analysis failed, using neutral defaults")
		} else {
			a = *out
		}
	}
	return withDefaults(a)
}

// callGuarded runs fn in its own goroutine so a collaborator that ignores
// cancellation still cannot hold the caller past the deadline. Panics are
// reported as errors.
func callGuarded[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result{zero, fmt.Errorf("collaborator panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// withDefaults fills missing or unrecognized classifications.
func withDefaults(a models.Analysis) models.Analysis {
	if a.LeadScore == 0 {
		a.LeadScore = DefaultLeadScore
	}
	switch a.Sentiment {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
	default:
		a.Sentiment = models.SentimentNeutral
	}
	switch a.Intent {
	case models.IntentHigh, models.IntentMedium, models.IntentLow:
	default:
		a.Intent = models.IntentMedium
	}
	switch a.Urgency {
	case models.UrgencyUrgent, models.UrgencyHigh, models.UrgencyMedium, models.UrgencyLow:
	default:
		a.Urgency = models.UrgencyMedium
	}
	switch a.PreferredChannel {
	case models.ChannelEmail, models.ChannelPhone, models.ChannelText, models.ChannelSocial:
	default:
		a.PreferredChannel = models.ChannelEmail
	}
	return a
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
