// Package channels provides the outbound delivery collaborators.
//
// Two drivers ship in-tree: Placeholder, which logs the payload and reports
// success, and Webhook, which POSTs the payload as JSON to an operator
// configured URL. Build picks one per action type.
package channels

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
)

// Placeholder stands in for a real provider. Every send succeeds.
type Placeholder struct{}

func receipt(status string) *contracts.DeliveryReceipt {
	return &contracts.DeliveryReceipt{Success: true, ID: uuid.New().String(), Status: status}
}

func (Placeholder) SendEmail(_ context.Context, msg *contracts.EmailMessage) (*contracts.DeliveryReceipt, error) {
	log.Info().Str("action_id", msg.ActionID).Str("to", msg.To).Str("subject", msg.Subject).Msg("📧 Email handed to placeholder sender")
	return receipt("sent"), nil
}

func (Placeholder) PlaceCall(_ context.Context, req *contracts.CallRequest) (*contracts.DeliveryReceipt, error) {
	log.Info().Str("action_id", req.ActionID).Str("to", req.To).Str("voice", string(req.Voice)).Msg("📞 Call handed to placeholder dialer")
	return receipt("completed"), nil
}

func (Placeholder) PostSocial(_ context.Context, post *contracts.SocialPost) (*contracts.DeliveryReceipt, error) {
	log.Info().Str("action_id", post.ActionID).Str("platform", post.Platform).Msg("Social post handed to placeholder")
	return receipt("posted"), nil
}

func (Placeholder) SendText(_ context.Context, msg *contracts.TextMessage) (*contracts.DeliveryReceipt, error) {
	log.Info().Str("action_id", msg.ActionID).Str("to", msg.To).Msg("Text message handed to placeholder")
	return receipt("sent"), nil
}

func (Placeholder) UpdateCRM(_ context.Context, rec *contracts.CRMRecord) (*contracts.DeliveryReceipt, error) {
	log.Info().Str("action_id", rec.ActionID).Str("lead_id", rec.LeadID).Int("lead_score", rec.LeadScore).Msg("CRM record handed to placeholder")
	return receipt("updated"), nil
}

func (Placeholder) Research(_ context.Context, req *contracts.ResearchRequest) (*contracts.DeliveryReceipt, error) {
	log.Info().Str("action_id", req.ActionID).Str("company", req.Company).Strs("topics", req.Topics).Msg("Research request handed to placeholder")
	return receipt("researched"), nil
}
