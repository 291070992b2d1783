package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/kgquery/pkg/api"
)

// Recovery returns middleware that converts a panic in the runner into a
// server error. The server keeps serving after a recovered panic.
func Recovery() Middleware {
	return func(next QueryRunner) QueryRunner {
		return QueryRunnerFunc(func(ctx context.Context, req *api.QueryRequest, w ResultWriter) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic while running query", "panic", r, "stack", string(debug.Stack()))
					retErr = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.RunQuery(ctx, req, w)
		})
	}
}
