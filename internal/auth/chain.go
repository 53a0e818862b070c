// Package auth provides the authentication provider chain for the outreach
// control plane. The API key provider is the only built-in provider;
// embedding programs register their own (OIDC, mTLS) on the same chain.
package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
)

// ProviderChain implements contracts.AuthProviderChain. Providers are tried
// in registration order and may be added while the server is running.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.AuthProvider
}

func NewProviderChain() *ProviderChain {
	return &ProviderChain{}
}

func (c *ProviderChain) RegisterProvider(provider contracts.AuthProvider) {
	c.mu.Lock()
	c.providers = append(c.providers, provider)
	c.mu.Unlock()
	log.Info().
		Str("provider", provider.Name()).
		Bool("enabled", provider.Enabled()).
		Msg("🔑 Auth provider registered")
}

// Authenticate returns the first identity a provider vouches for. A provider
// answering (nil, nil) passes; an error rejects the request outright. No
// identity and no error means the caller is anonymous.
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	for _, p := range c.snapshot() {
		if !p.Enabled() {
			continue
		}
		identity, err := p.Authenticate(ctx, r)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("provider", p.Name()).Msg("Auth provider rejected request")
			return nil, err
		case identity != nil:
			if identity.Provider == "" {
				identity.Provider = p.Name()
			}
			return identity, nil
		}
	}
	return nil, nil
}

// Providers names the registered providers in chain order.
func (c *ProviderChain) Providers() []string {
	ps := c.snapshot()
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name()
	}
	return names
}

func (c *ProviderChain) snapshot() []contracts.AuthProvider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]contracts.AuthProvider(nil), c.providers...)
}
