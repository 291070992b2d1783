package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/rhuss/kgquery/pkg/api"
)

// RequestID returns middleware that assigns a request ID to each query. An
// ID already in the context (from the X-Request-ID header) is kept.
func RequestID() Middleware {
	return func(next QueryRunner) QueryRunner {
		return QueryRunnerFunc(func(ctx context.Context, req *api.QueryRequest, w ResultWriter) error {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, uuid.NewString())
			}
			return next.RunQuery(ctx, req, w)
		})
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the request ID of ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID returns a copy of ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
