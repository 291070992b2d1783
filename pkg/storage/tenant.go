package storage

import "context"

type tenantKey struct{}

// WithTenant scopes ctx to tenantID. Stores record the tenant on save and
// hide other tenants' envelopes on read.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom returns the tenant of ctx, or "" in single-tenant mode.
func TenantFrom(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey{}).(string)
	return id
}

// InTenant reports whether an envelope saved under owner is visible to ctx.
// An unscoped context sees every tenant.
func InTenant(ctx context.Context, owner string) bool {
	tenant := TenantFrom(ctx)
	return tenant == "" || tenant == owner
}
