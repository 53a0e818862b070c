// Package middleware provides request-context helpers shared by the HTTP
// layer and programs that embed the control plane.
//
// It lives in pkg/ so embedding programs can read the tenant and identity
// set by the control plane's middleware from their own handlers.
package middleware

import "context"

type contextKey string

const tenantKey contextKey = "tenant_id"

// DefaultTenant is used when a request names no tenant.
const DefaultTenant = "default"

// GetTenant extracts the tenant ID from the context.
// Returns DefaultTenant if none is set.
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey).(string); ok && v != "" {
		return v
	}
	return DefaultTenant
}

// SetTenant stores the tenant ID in the context.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}
