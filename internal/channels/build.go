package channels

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Config selects a driver per action type. An empty URL keeps the placeholder.
type Config struct {
	URLs    map[models.ActionType]string
	Secret  string
	RPS     float64
	Timeout time.Duration
}

// Build assembles the channel set. Webhooks pointing at the same URL share
// one driver and therefore one rate limiter.
func Build(cfg Config) contracts.Channels {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout <= 0 {
		client.Timeout = 15 * time.Second
	}

	hooks := make(map[string]*Webhook)
	pick := func(t models.ActionType) interface{} {
		url := cfg.URLs[t]
		if url == "" {
			return Placeholder{}
		}
		w, ok := hooks[url]
		if !ok {
			w = NewWebhook(url, cfg.Secret, cfg.RPS, client)
			hooks[url] = w
		}
		log.Info().Str("channel", string(t)).Str("url", url).Msg("Webhook channel driver configured")
		return w
	}

	return contracts.Channels{
		Email:    pick(models.ActionEmail).(contracts.EmailSender),
		Call:     pick(models.ActionCall).(contracts.Caller),
		Social:   pick(models.ActionSocialPost).(contracts.SocialPoster),
		Text:     pick(models.ActionTextMessage).(contracts.TextSender),
		CRM:      pick(models.ActionCRMUpdate).(contracts.CRMUpdater),
		Research: pick(models.ActionDataResearch).(contracts.Researcher),
	}
}
