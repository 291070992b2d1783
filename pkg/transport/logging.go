package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
)

// Logging returns middleware that emits one structured log entry per query
// with the request ID, query size, explicit date count, stream flag and
// duration.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next QueryRunner) QueryRunner {
		return QueryRunnerFunc(func(ctx context.Context, req *api.QueryRequest, w ResultWriter) error {
			start := time.Now()
			debug.Log("transport", "query received", "query", debug.Truncate(req.Query, 200))

			err := next.RunQuery(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.Int("query_bytes", len(req.Query)),
				slog.Int("dates", len(req.Dates)),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "query failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "query completed", attrs...)
			}
			return err
		})
	}
}
