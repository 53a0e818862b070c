package intel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// EchoProfile is the unenriched profile: the input fields, nothing more.
func EchoProfile(lead models.LeadData) *models.EnrichedProfile {
	return &models.EnrichedProfile{
		Name:     lead.Name,
		Email:    lead.Email,
		Phone:    lead.Phone,
		Company:  lead.Company,
		Title:    lead.Title,
		Location: lead.Location,
		Source:   lead.Source,
		Message:  lead.Message,
	}
}

// ── Enricher ────────────────────────────────────────────────

var decisionMakerTitles = []string{
	"owner", "founder", "president", "ceo", "coo", "cfo", "vp", "vice president",
	"director", "head of", "manager", "logistics lead",
}

var freightIndustries = map[string]string{
	"logistics":     "Logistics",
	"freight":       "Transportation",
	"trucking":      "Transportation",
	"transport":     "Transportation",
	"manufacturing": "Manufacturing",
	"farms":         "Agriculture",
	"foods":         "Food & Beverage",
	"retail":        "Retail",
	"supply":        "Wholesale",
}

// LocalEnricher derives what it can from the lead itself: decision-maker
// status from the title, a company name from a business email domain, and
// an industry guess from the company name. It never calls out.
type LocalEnricher struct{}

func (LocalEnricher) Enrich(_ context.Context, _ string, lead models.LeadData) (*models.EnrichedProfile, error) {
	p := EchoProfile(lead)

	title := strings.ToLower(lead.Title)
	for _, t := range decisionMakerTitles {
		if strings.Contains(title, t) {
			p.DecisionMaker = true
			p.Tags = append(p.Tags, "decision-maker")
			break
		}
	}

	if p.Company == "" {
		p.Company = companyFromEmail(lead.Email)
	}
	company := strings.ToLower(p.Company)
	keys := make([]string, 0, len(freightIndustries))
	for k := range freightIndustries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(company, k) {
			p.Industry = freightIndustries[k]
			break
		}
	}

	valid := lead.Email != "" && strings.Count(lead.Email, "@") == 1 && strings.Contains(lead.Email[strings.Index(lead.Email, "@"):], ".")
	if lead.Email != "" {
		p.EmailValid = &valid
	}
	if lead.Source != "" {
		p.Tags = append(p.Tags, "source:"+lead.Source)
	}
	return p, nil
}

var freeMailDomains = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true, "outlook.com": true,
	"aol.com": true, "icloud.com": true, "proton.me": true,
}

func companyFromEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	domain := email[at+1:]
	if freeMailDomains[domain] {
		return ""
	}
	name := strings.SplitN(domain, ".", 2)[0]
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// ── Analyzer ────────────────────────────────────────────────

var (
	urgentWords   = []string{"urgent", "asap", "today", "immediately"}
	highWords     = []string{"tomorrow", "this week", "soon", "quickly"}
	intentWords   = []string{"quote", "rate", "pricing", "capacity", "book", "load", "shipment", "ship"}
	positiveWords = []string{"thanks", "thank you", "great", "interested", "excited", "appreciate", "looking forward"}
	negativeWords = []string{"disappointed", "unhappy", "late", "damaged", "complaint", "problem", "cancel"}

	equipmentWords = map[string]string{
		"dry van":   "dry_van",
		"reefer":    "reefer",
		"flatbed":   "flatbed",
		"step deck": "step_deck",
		"tanker":    "tanker",
		"hazmat":    "hazmat",
		"ltl":       "ltl",
		"ftl":       "ftl",
	}
)

// HeuristicAnalyzer scores leads deterministically from contact completeness,
// decision-maker status and keywords in the inbound message.
type HeuristicAnalyzer struct{}

func (HeuristicAnalyzer) Analyze(_ context.Context, _ string, p *models.EnrichedProfile) (*models.Analysis, error) {
	if p == nil {
		return nil, fmt.Errorf("nil profile")
	}
	msg := strings.ToLower(p.Message)

	score := 20
	if p.Email != "" {
		score += 10
	}
	if p.Phone != "" {
		score += 10
	}
	if p.Company != "" {
		score += 10
	}
	if p.DecisionMaker {
		score += 15
	}
	intentHits := countHits(msg, intentWords)
	score += 5 * min(intentHits, 4)

	a := &models.Analysis{
		Sentiment:        models.SentimentNeutral,
		Intent:           models.IntentLow,
		Urgency:          models.UrgencyLow,
		PreferredChannel: models.ChannelEmail,
		Insights:         map[string]string{},
	}

	switch {
	case containsAny(msg, urgentWords):
		a.Urgency = models.UrgencyUrgent
		score += 15
	case containsAny(msg, highWords):
		a.Urgency = models.UrgencyHigh
		score += 8
	case msg != "":
		a.Urgency = models.UrgencyMedium
	}

	switch {
	case intentHits >= 2:
		a.Intent = models.IntentHigh
	case intentHits == 1:
		a.Intent = models.IntentMedium
	}

	pos, neg := countHits(msg, positiveWords), countHits(msg, negativeWords)
	switch {
	case pos > neg:
		a.Sentiment = models.SentimentPositive
	case neg > pos:
		a.Sentiment = models.SentimentNegative
		score -= 5
	}

	if p.Phone != "" && a.Urgency == models.UrgencyUrgent {
		a.PreferredChannel = models.ChannelPhone
	}

	for phrase, code := range equipmentWords {
		if strings.Contains(msg, phrase) {
			a.EquipmentNeeds = append(a.EquipmentNeeds, code)
		}
	}
	sort.Strings(a.EquipmentNeeds)

	a.LeadScore = clampScore(score)
	a.NextActionSuggestion = nextAction(a)
	a.Insights["score_basis"] = fmt.Sprintf("contact=%t/%t company=%t decision_maker=%t intent_hits=%d",
		p.Email != "", p.Phone != "", p.Company != "", p.DecisionMaker, intentHits)
	return a, nil
}

func nextAction(a *models.Analysis) string {
	switch {
	case a.Urgency == models.UrgencyUrgent:
		return "Respond immediately with a freight quote and offer a call"
	case a.Intent == models.IntentHigh:
		return "Send personalized email with freight quote"
	case a.Sentiment == models.SentimentNegative:
		return "Escalate to a human representative"
	}
	return "Send introductory email and schedule follow-up"
}

func containsAny(s string, words []string) bool {
	return countHits(s, words) > 0
}

func countHits(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}
