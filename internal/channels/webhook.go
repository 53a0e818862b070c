package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Webhook delivers payloads via HTTP POST to one URL with optional
// HMAC-SHA256 signing. It implements every channel interface; the action
// type travels in the X-Outreach-Channel header.
//
// A 2xx response counts as delivered. When the body is a JSON receipt its
// fields are used, so an endpoint can still report success=false.
type Webhook struct {
	url     string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhook creates a webhook driver. rps ≤ 0 disables rate limiting.
func NewWebhook(url, secret string, rps float64, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Webhook{url: url, secret: secret, client: client, limiter: rate.NewLimiter(limit, burst)}
}

func (w *Webhook) post(ctx context.Context, channel models.ActionType, env contracts.Envelope, payload interface{}) (*contracts.DeliveryReceipt, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("webhook rate limit: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Outreach-Webhook/1.0")
	req.Header.Set("X-Outreach-Channel", string(channel))
	req.Header.Set("X-Outreach-Tenant", env.TenantID)
	req.Header.Set("X-Outreach-Action", env.ActionID)

	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		req.Header.Set("X-Outreach-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, w.url)
	}

	var rc contracts.DeliveryReceipt
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &rc) == nil && (rc.ID != "" || rc.Status != "" || rc.Error != "") {
		log.Debug().Str("channel", string(channel)).Str("action_id", env.ActionID).Bool("success", rc.Success).Msg("Webhook receipt")
		return &rc, nil
	}
	return &contracts.DeliveryReceipt{Success: true, Status: "accepted"}, nil
}

func (w *Webhook) SendEmail(ctx context.Context, msg *contracts.EmailMessage) (*contracts.DeliveryReceipt, error) {
	return w.post(ctx, models.ActionEmail, msg.Envelope, msg)
}

func (w *Webhook) PlaceCall(ctx context.Context, req *contracts.CallRequest) (*contracts.DeliveryReceipt, error) {
	return w.post(ctx, models.ActionCall, req.Envelope, req)
}

func (w *Webhook) PostSocial(ctx context.Context, post *contracts.SocialPost) (*contracts.DeliveryReceipt, error) {
	return w.post(ctx, models.ActionSocialPost, post.Envelope, post)
}

func (w *Webhook) SendText(ctx context.Context, msg *contracts.TextMessage) (*contracts.DeliveryReceipt, error) {
	return w.post(ctx, models.ActionTextMessage, msg.Envelope, msg)
}

func (w *Webhook) UpdateCRM(ctx context.Context, rec *contracts.CRMRecord) (*contracts.DeliveryReceipt, error) {
	return w.post(ctx, models.ActionCRMUpdate, rec.Envelope, rec)
}

func (w *Webhook) Research(ctx context.Context, req *contracts.ResearchRequest) (*contracts.DeliveryReceipt, error) {
	return w.post(ctx, models.ActionDataResearch, req.Envelope, req)
}
