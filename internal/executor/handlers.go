package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/internal/schedule"
	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// emailSentiment is the sentiment credited to a professional written reply
// when the provider reports none.
const emailSentiment = 0.2

// ErrNoEmailTemplates is returned when the tenant has no active email template.
var ErrNoEmailTemplates = errors.New("no email templates available")

func envelope(a *models.AgentAction) contracts.Envelope {
	return contracts.Envelope{TenantID: a.TenantID, AgentID: a.AgentID, ActionID: a.ID, LeadID: a.TargetID}
}

func lead(a *models.AgentAction) *models.LeadIntelligence {
	if a.Context.LeadData == nil {
		return &models.LeadIntelligence{LeadID: a.TargetID, TenantID: a.TenantID}
	}
	return a.Context.LeadData
}

func outcome(rc *contracts.DeliveryReceipt, fallback string) string {
	if rc.Status != "" {
		return rc.Status
	}
	return fallback
}

// ── email ───────────────────────────────────────────────────

func (e *Executor) email(ctx context.Context, agent *models.AgentConfig, a *models.AgentAction) (*models.ActionResult, error) {
	l := lead(a)
	if l.Email == "" {
		return nil, &models.ChannelError{Channel: models.ActionEmail, Err: errors.New("lead has no email address")}
	}

	tmpl, err := e.templates.SelectForChannel(ctx, a.TenantID, models.CategoryEmail, l)
	if errors.Is(err, models.ErrNotFound) {
		return nil, &models.ChannelError{Channel: models.ActionEmail, Err: ErrNoEmailTemplates}
	}
	if err != nil {
		return nil, err
	}

	company := a.Context.CompanyData
	res, err := e.templates.Resolve(ctx, a.TenantID, tmpl.ID, models.TemplateContext{
		TenantID:    agent.TenantID,
		UserID:      agent.ContractorID,
		CustomData:  map[string]interface{}{"agent_name": agent.Name, "voice": string(agent.Settings.Voice)},
		LeadData:    leadValues(l),
		CompanyData: companyValues(company),
		Timestamp:   e.now(),
	})
	if err != nil {
		return nil, err
	}
	if len(res.MissingRequired) > 0 {
		log.Warn().Str("action_id", a.ID).Str("template_id", tmpl.ID).Strs("missing", res.MissingRequired).Msg("Email template has missing variables")
	}

	subject := res.Subject
	if subject == "" {
		subject = "Re: Your freight inquiry - " + company.Name
	}
	msg := &contracts.EmailMessage{
		Envelope:   envelope(a),
		To:         l.Email,
		ToName:     l.Name,
		From:       company.Email,
		FromName:   company.Name,
		Subject:    subject,
		Body:       res.Content,
		TemplateID: tmpl.ID,
	}
	rc, err := e.deliver(ctx, models.ActionEmail, func(c context.Context) (*contracts.DeliveryReceipt, error) {
		return e.channels.Email.SendEmail(c, msg)
	})
	if err != nil {
		return nil, err
	}

	sentiment := rc.Sentiment
	if sentiment == nil {
		s := emailSentiment
		sentiment = &s
	}
	return &models.ActionResult{
		Outcome:    outcome(rc, "sent"),
		TemplateID: tmpl.ID,
		ExternalID: rc.ID,
		Sentiment:  sentiment,
		Fields: map[string]interface{}{
			"subject":          subject,
			"template_version": res.Version,
			"missing_required": res.MissingRequired,
		},
		Warnings: res.Warnings,
	}, nil
}

// leadValues flattens the lead into template lookup keys (its JSON names)
// plus first_name.
func leadValues(l *models.LeadIntelligence) map[string]interface{} {
	m := map[string]interface{}{}
	if raw, err := json.Marshal(l); err == nil {
		_ = json.Unmarshal(raw, &m)
	}
	if fields := strings.Fields(l.Name); len(fields) > 0 {
		m["first_name"] = fields[0]
	}
	return m
}

// companyValues exposes the tenant profile under both its own keys and
// company_-prefixed aliases, since the lead's keys win on a clash.
func companyValues(c models.CompanyData) map[string]interface{} {
	return map[string]interface{}{
		"name":            c.Name,
		"phone":           c.Phone,
		"email":           c.Email,
		"website":         c.Website,
		"company_name":    c.Name,
		"company_phone":   c.Phone,
		"company_email":   c.Email,
		"company_website": c.Website,
	}
}

// ── call ────────────────────────────────────────────────────

var voiceClosings = map[models.Voice]string{
	models.VoiceProfessional: "I'd be glad to walk you through our capacity and put together a competitive quote. When would be a good time to talk?",
	models.VoiceFriendly:     "I'd love to help you get this load moving. Do you have a few minutes to chat?",
	models.VoiceAggressive:   "We have trucks available on your lane right now and can lock in a rate today. Can we get this booked?",
	models.VoiceTechnical:    "I can go over equipment options, transit times and our rate structure. Which lanes and load specs are you working with?",
}

func callScript(agent *models.AgentConfig, l *models.LeadIntelligence) string {
	script := fmt.Sprintf("Hello %s, this is %s. I'm following up on your freight inquiry...", l.Name, agent.Name)
	if closing, ok := voiceClosings[agent.Settings.Voice]; ok {
		script += " " + closing
	}
	return script
}

func (e *Executor) call(ctx context.Context, agent *models.AgentConfig, a *models.AgentAction) (*models.ActionResult, error) {
	l := lead(a)
	if l.Phone == "" {
		return nil, &models.ChannelError{Channel: models.ActionCall, Err: errors.New("lead has no phone number")}
	}

	day := e.now().In(schedule.Location(agent))
	count, err := e.calls.TryIncrement(ctx, agent.AgentID, day, agent.Settings.MaxDailyCalls)
	if errors.Is(err, models.ErrQuotaExceeded) {
		return nil, fmt.Errorf("daily call limit reached (%d): %w", agent.Settings.MaxDailyCalls, models.ErrQuotaExceeded)
	}
	if err != nil {
		return nil, fmt.Errorf("call counter: %w", err)
	}

	req := &contracts.CallRequest{
		Envelope: envelope(a),
		To:       l.Phone,
		LeadName: l.Name,
		Script:   callScript(agent, l),
		Voice:    agent.Settings.Voice,
	}
	rc, err := e.deliver(ctx, models.ActionCall, func(c context.Context) (*contracts.DeliveryReceipt, error) {
		return e.channels.Call.PlaceCall(c, req)
	})
	if err != nil {
		// A timed-out call may still have connected, so only a definite
		// failure gives the slot back.
		if !errors.Is(err, context.DeadlineExceeded) {
			if rerr := e.calls.Release(context.WithoutCancel(ctx), agent.AgentID, day); rerr != nil {
				log.Warn().Err(rerr).Str("agent_id", agent.AgentID).Msg("Failed to release call slot")
			}
		}
		return nil, err
	}

	sentiment := rc.Sentiment
	if sentiment == nil {
		zero := 0.0
		sentiment = &zero
	}
	fields := map[string]interface{}{"calls_today": count}
	for k, v := range rc.Fields {
		fields[k] = v
	}
	return &models.ActionResult{Outcome: outcome(rc, "completed"), ExternalID: rc.ID, Sentiment: sentiment, Fields: fields}, nil
}

// ── social, text, research ──────────────────────────────────

func (e *Executor) social(ctx context.Context, agent *models.AgentConfig, a *models.AgentAction) (*models.ActionResult, error) {
	l := lead(a)
	content := a.CustomContent
	if content == "" {
		content = fmt.Sprintf("%s is moving freight for shippers like %s. Reach us at %s.",
			a.Context.CompanyData.Name, firstNonEmpty(l.Company, l.Name), firstNonEmpty(a.Context.CompanyData.Website, a.Context.CompanyData.Phone))
	}
	platform := "linkedin"
	if !agent.Integrations.LinkedIn && agent.Integrations.Facebook {
		platform = "facebook"
	}
	post := &contracts.SocialPost{Envelope: envelope(a), Platform: platform, Content: content, Company: l.Company}

	rc, err := e.deliver(ctx, models.ActionSocialPost, func(c context.Context) (*contracts.DeliveryReceipt, error) {
		return e.channels.Social.PostSocial(c, post)
	})
	if err != nil {
		return nil, err
	}
	return &models.ActionResult{
		Outcome:    outcome(rc, "posted"),
		ExternalID: rc.ID,
		Sentiment:  rc.Sentiment,
		Fields:     map[string]interface{}{"platform": platform},
	}, nil
}

func (e *Executor) text(ctx context.Context, agent *models.AgentConfig, a *models.AgentAction) (*models.ActionResult, error) {
	l := lead(a)
	if l.Phone == "" {
		return nil, &models.ChannelError{Channel: models.ActionTextMessage, Err: errors.New("lead has no phone number")}
	}
	body := a.CustomContent
	if body == "" {
		body = fmt.Sprintf("Hi %s, this is %s from %s about your freight inquiry. Reply here or call %s.",
			firstNonEmpty(firstName(l.Name), "there"), agent.Name, a.Context.CompanyData.Name, a.Context.CompanyData.Phone)
	}
	msg := &contracts.TextMessage{Envelope: envelope(a), To: l.Phone, Body: body}

	rc, err := e.deliver(ctx, models.ActionTextMessage, func(c context.Context) (*contracts.DeliveryReceipt, error) {
		return e.channels.Text.SendText(c, msg)
	})
	if err != nil {
		return nil, err
	}
	return &models.ActionResult{Outcome: outcome(rc, "sent"), ExternalID: rc.ID, Sentiment: rc.Sentiment}, nil
}

func (e *Executor) research(ctx context.Context, _ *models.AgentConfig, a *models.AgentAction) (*models.ActionResult, error) {
	l := lead(a)
	topics := []string{"company_profile", "shipping_volume"}
	if l.Industry != "" {
		topics = append(topics, "industry:"+strings.ToLower(l.Industry))
	}
	req := &contracts.ResearchRequest{Envelope: envelope(a), Name: l.Name, Company: l.Company, Email: l.Email, Topics: topics}

	rc, err := e.deliver(ctx, models.ActionDataResearch, func(c context.Context) (*contracts.DeliveryReceipt, error) {
		return e.channels.Research.Research(c, req)
	})
	if err != nil {
		return nil, err
	}
	return &models.ActionResult{Outcome: outcome(rc, "researched"), ExternalID: rc.ID, Fields: rc.Fields}, nil
}

// ── crm ─────────────────────────────────────────────────────

func (e *Executor) crm(ctx context.Context, _ *models.AgentConfig, a *models.AgentAction) (*models.ActionResult, error) {
	l := lead(a)
	rec := &contracts.CRMRecord{
		Envelope:   envelope(a),
		Name:       l.Name,
		Company:    l.Company,
		Email:      l.Email,
		Phone:      l.Phone,
		LeadScore:  l.LeadScore,
		Sentiment:  l.Sentiment,
		Intent:     l.Intent,
		Urgency:    l.Urgency,
		Stage:      l.RelationshipStage,
		NextAction: l.NextActionSuggestion,
		Tags:       append([]string{"source:ai_agent"}, l.Tags...),
	}
	rc, err := e.deliver(ctx, models.ActionCRMUpdate, func(c context.Context) (*contracts.DeliveryReceipt, error) {
		return e.channels.CRM.UpdateCRM(c, rec)
	})
	if err != nil {
		return nil, err
	}
	return &models.ActionResult{
		Outcome:    "updated",
		ExternalID: rc.ID,
		Fields:     map[string]interface{}{"crm_record_id": rc.ID},
	}, nil
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
