package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated API caller.
type Identity struct {
	// Subject is the unique identifier (API key hash for key callers).
	Subject string `json:"subject"`

	// Provider identifies which auth provider authenticated this identity.
	Provider string `json:"provider"`

	// TenantID pins the caller to one tenant. Empty means the tenant comes
	// from the X-Tenant-Id header.
	TenantID string `json:"tenant_id,omitempty"`

	DisplayName string    `json:"display_name,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// AuthProviderChain tries providers in registration order until one
// returns an Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
