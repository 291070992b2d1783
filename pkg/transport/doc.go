// Package transport defines the handler interfaces and middleware chain for
// the kgquery HTTP/SSE transport layer.
//
// The transport layer bridges external clients and the query pipeline. It
// decodes incoming requests into the types defined in pkg/api, dispatches
// them to a QueryRunner, and serializes results back to the client either as
// a single JSON envelope or as a stream of stage events (SSE).
//
// # Handler Interfaces
//
//   - QueryRunner runs one query through the pipeline.
//   - QueryStore persists finished envelopes for later retrieval, listing
//     and deletion. It is optional.
//
// The ResultWriter interface abstracts streaming and non-streaming output,
// so the pipeline can emit stage events or a complete envelope without
// knowing the underlying protocol.
//
// # Middleware
//
// The middleware chain wraps a QueryRunner with cross-cutting concerns:
// panic recovery, request ID assignment (X-Request-ID) and structured
// logging via log/slog.
package transport
