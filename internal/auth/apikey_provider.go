package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
)

// APIKeyProvider validates keys from the Authorization: Bearer <key> or
// X-API-Key headers.
//
// Keys come from OUTREACH_API_KEYS as a comma-separated list. An entry of
// the form "key=tenant" pins callers using that key to one tenant; a bare
// key may act on any tenant named by X-Tenant-Id.
type APIKeyProvider struct {
	mu      sync.RWMutex
	keys    map[string]string // key → pinned tenant ("" for any)
	enabled bool
}

// NewAPIKeyProvider parses a key list such as "k1,k2=acme".
func NewAPIKeyProvider(keys string) *APIKeyProvider {
	p := &APIKeyProvider{keys: make(map[string]string)}
	for _, entry := range strings.Split(keys, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, tenant, _ := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		p.keys[key] = strings.TrimSpace(tenant)
		p.enabled = true
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Authenticate returns (nil, nil) when the request carries no key and an
// error when the key is unknown.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	apiKey := extractAPIKeyFromRequest(r)
	if apiKey == "" {
		return nil, nil
	}

	tenant, ok := p.lookup(apiKey)
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}

	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(apiKey)))
	return &contracts.Identity{
		Subject:     "apikey:" + keyHash[:16],
		Provider:    "apikey",
		TenantID:    tenant,
		DisplayName: "API Key User",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *APIKeyProvider) lookup(candidate string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for key, tenant := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return tenant, true
		}
	}
	return "", false
}

// AddKey adds a key at runtime. An empty tenant allows any tenant.
func (p *APIKeyProvider) AddKey(key, tenant string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = tenant
	p.enabled = true
}

// RemoveKey removes a key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
	if len(p.keys) == 0 {
		p.enabled = false
	}
}

func extractAPIKeyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}
