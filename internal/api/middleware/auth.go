package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	pkgmw "github.com/fleetflow/outreach/control-plane/pkg/middleware"
)

// AuthMiddleware authenticates requests through the provider chain and
// stores the resulting Identity in the request context. An identity pinned
// to a tenant overrides whatever tenant the request named.
type AuthMiddleware struct {
	chain       contracts.AuthProviderChain
	requireAuth bool
}

// NewAuthMiddleware creates the auth middleware. With requireAuth set,
// anonymous requests to non-public paths are rejected.
func NewAuthMiddleware(chain contracts.AuthProviderChain, requireAuth bool) *AuthMiddleware {
	return &AuthMiddleware{chain: chain, requireAuth: requireAuth}
}

func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			respondUnauthorized(w, "authentication_failed", err.Error())
			return
		}
		if identity == nil && am.requireAuth {
			respondUnauthorized(w, "authentication_required",
				"API key required. Set Authorization: Bearer <key> or X-API-Key header.")
			return
		}

		ctx := r.Context()
		if identity != nil {
			log.Debug().
				Str("provider", identity.Provider).
				Str("subject", identity.Subject).
				Str("tenant_id", identity.TenantID).
				Msg("Request authenticated")
			ctx = pkgmw.SetIdentity(ctx, identity)
			if identity.TenantID != "" {
				ctx = pkgmw.SetTenant(ctx, identity.TenantID)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/debug/")
}

func respondUnauthorized(w http.ResponseWriter, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="outreach"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}
