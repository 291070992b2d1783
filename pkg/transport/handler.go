package transport

import (
	"context"

	"github.com/rhuss/kgquery/pkg/api"
)

// QueryRunner runs one query. The implementation writes either stage events
// or the finished envelope to the ResultWriter. Returned errors are request
// level failures (validation, storage); pipeline failures are reported
// inside the envelope.
type QueryRunner interface {
	RunQuery(ctx context.Context, req *api.QueryRequest, w ResultWriter) error
}

// QueryRunnerFunc is an adapter that allows using an ordinary function
// as a QueryRunner.
type QueryRunnerFunc func(ctx context.Context, req *api.QueryRequest, w ResultWriter) error

// RunQuery calls f(ctx, req, w).
func (f QueryRunnerFunc) RunQuery(ctx context.Context, req *api.QueryRequest, w ResultWriter) error {
	return f(ctx, req, w)
}

// ListOptions controls pagination and ordering for list operations.
type ListOptions struct {
	After  string // Cursor: return envelopes after this ID.
	Before string // Cursor: return envelopes before this ID.
	Limit  int    // Maximum number of envelopes to return (default 20, max 100).
	Order  string // Sort order: "asc" or "desc" (default "desc").
}

// QueryStore persists finished query envelopes.
type QueryStore interface {
	// SaveEnvelope persists a finished envelope. Returns storage.ErrConflict
	// if an envelope with the same ID exists.
	SaveEnvelope(ctx context.Context, env *api.ResponseEnvelope) error

	// GetEnvelope retrieves an envelope by ID. Returns storage.ErrNotFound
	// if it does not exist or has been deleted.
	GetEnvelope(ctx context.Context, id string) (*api.ResponseEnvelope, error)

	// DeleteEnvelope soft-deletes an envelope by ID.
	DeleteEnvelope(ctx context.Context, id string) error

	// ListEnvelopes returns a page of stored envelopes, filtered by tenant
	// when one is present in the context.
	ListEnvelopes(ctx context.Context, opts ListOptions) (*api.EnvelopeList, error)

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases connections and resources.
	Close() error
}

// ResultWriter abstracts streaming and non-streaming output for the runner.
//
// WriteEvent and WriteEnvelope are mutually exclusive on a single writer
// instance until the terminal event: a streaming runner finishes with a
// query.completed or query.failed event carrying the envelope.
type ResultWriter interface {
	// WriteEvent sends a single stage event. Returns an error if called
	// after a terminal event or after WriteEnvelope.
	WriteEvent(ctx context.Context, event api.StageEvent) error

	// WriteEnvelope sends the complete envelope as one JSON document.
	// Returns an error if called after WriteEvent.
	WriteEnvelope(ctx context.Context, env *api.ResponseEnvelope) error

	// Flush ensures buffered data is sent to the client. Returns an error
	// if the client has disconnected.
	Flush() error
}
