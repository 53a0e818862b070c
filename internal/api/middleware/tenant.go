package middleware

import (
	"net/http"
	"strings"

	pkgmw "github.com/fleetflow/outreach/control-plane/pkg/middleware"
)

// TenantHeader names the tenant a request acts for.
const TenantHeader = "X-Tenant-Id"

// TenantExtractor reads the tenant from the X-Tenant-Id header, then the
// tenant query parameter, and falls back to the default tenant. The auth
// middleware may later replace it with the tenant pinned to the caller's key.
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant == "" {
			tenant = strings.TrimSpace(r.URL.Query().Get("tenant"))
		}
		if tenant == "" {
			tenant = pkgmw.DefaultTenant
		}
		next.ServeHTTP(w, r.WithContext(pkgmw.SetTenant(r.Context(), tenant)))
	})
}

// GetTenantID retrieves the tenant ID from the request context.
func GetTenantID(r *http.Request) string {
	return pkgmw.GetTenant(r.Context())
}
