package middleware

import (
	"context"

	"github.com/conveyorhq/conveyor/job"
)

type tenantKey struct{}

// Tenant places the job's tenant ID on the context so handlers and
// downstream clients can scope their work without threading the job
// through.
func Tenant() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(context.WithValue(ctx, tenantKey{}, j.TenantID))
	}
}

// TenantFromContext returns the tenant ID placed on the context by
// Tenant, or "" when absent.
func TenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantKey{}).(string)
	return tenant
}
