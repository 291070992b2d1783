package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/observability"
	"github.com/rhuss/kgquery/pkg/partition"
	"github.com/rhuss/kgquery/pkg/storage"
	"github.com/rhuss/kgquery/pkg/transport"
)

// Adapter serves the query API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	runner   transport.QueryRunner
	store    transport.QueryStore // nil if history is disabled
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int // seconds

	// DatasetPath is listed by GET /v1/partitions and checked by /readyz.
	DatasetPath string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     1 << 20, // 1 MB
		ShutdownTimeout: 30,
		DatasetPath:     "./data",
	}
}

// NewAdapter creates an HTTP adapter with the given QueryRunner and options.
// The QueryStore is optional; when nil, GET and list endpoints return an
// error indicating the operation is not available.
// Middleware is applied to the QueryRunner in the given order.
func NewAdapter(runner transport.QueryRunner, store transport.QueryStore, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		runner = transport.Chain(middlewares...)(runner)
	}

	a := &Adapter{
		runner:   runner,
		store:    store,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/queries", a.handleCreateQuery)
	a.mux.HandleFunc("GET /v1/queries/{id}", a.handleGetQuery)
	a.mux.HandleFunc("GET /v1/queries", a.handleListQueries)
	a.mux.HandleFunc("DELETE /v1/queries/{id}", a.handleDeleteQuery)
	a.mux.HandleFunc("GET /v1/partitions", a.handleListPartitions)
	a.mux.HandleFunc("GET /healthz", handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware is HTTP-level middleware that propagates the
// X-Request-ID header. If present in the request, it is forwarded to
// the response. After the handler runs, it checks the context for a
// request ID (set by the transport-level RequestID middleware) and adds
// it to the response headers if not already set.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// handleCreateQuery handles POST /v1/queries.
func (a *Adapter) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}

	if req.Stream {
		a.handleStreamingQuery(w, r, &req)
		return
	}

	rw := newSSEResultWriter(w, nil)
	if err := a.runner.RunQuery(r.Context(), &req, rw); err != nil {
		a.writeHandlerError(w, rw, err)
	}
}

// handleStreamingQuery handles streaming POST requests (stream: true). The
// query is cancellable through DELETE /v1/queries/{id} from the moment its
// query.created event has been sent.
func (a *Adapter) handleStreamingQuery(w http.ResponseWriter, r *http.Request, req *api.QueryRequest) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	done := func() {}
	rw := newSSEResultWriter(w, func(id string) {
		done = a.inflight.Register(id, cancel)
	})

	err := a.runner.RunQuery(ctx, req, rw)
	done()

	if err != nil {
		a.writeHandlerError(w, rw, err)
	}
}

// handleGetQuery handles GET /v1/queries/{id}.
func (a *Adapter) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "query retrieval is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	id := r.PathValue("id")
	if !api.ValidateQueryID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed query ID"),
			http.StatusBadRequest,
		)
		return
	}

	env, err := a.store.GetEnvelope(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleDeleteQuery handles DELETE /v1/queries/{id}.
// It first checks the in-flight registry (for cancelling running queries),
// then falls through to the query store for standard deletion.
func (a *Adapter) handleDeleteQuery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateQueryID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed query ID"),
			http.StatusBadRequest,
		)
		return
	}

	if a.inflight.Cancel(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "query deletion is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	if err := a.store.DeleteEnvelope(r.Context(), id); err != nil {
		writeStoreError(w, id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListQueries handles GET /v1/queries.
func (a *Adapter) handleListQueries(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "query listing is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteErrorResponse(w, apiErr, http.StatusBadRequest)
		return
	}

	result, err := a.store.ListEnvelopes(r.Context(), opts)
	if err != nil {
		writeStoreError(w, "", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListPartitions handles GET /v1/partitions.
func (a *Adapter) handleListPartitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, partition.Catalog(a.config.DatasetPath))
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// handleReadyz reports whether the dataset directory is present and the
// query store answers.
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if fi, err := os.Stat(a.config.DatasetPath); err != nil || !fi.IsDir() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "dataset directory " + a.config.DatasetPath + " is not readable",
		})
		return
	}

	if a.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.store.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  "store: " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// parseListOptions extracts pagination parameters from query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Order:  q.Get("order"),
	}

	if opts.After != "" && opts.Before != "" {
		return opts, api.NewInvalidRequestError("after", "cannot use both 'after' and 'before' cursors")
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'")
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}

// writeStoreError maps a store error to an API error response.
func writeStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		transport.WriteAPIError(w, api.NewNotFoundError("query "+id+" not found"))
		return
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		transport.WriteAPIError(w, apiErr)
		return
	}
	transport.WriteAPIError(w, api.NewServerError(err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeHandlerError writes an error response from the handler. If streaming
// has already started, it sends a query.failed event. Otherwise it writes
// a standard JSON error response.
func (a *Adapter) writeHandlerError(w http.ResponseWriter, rw *sseResultWriter, err error) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}

	if rw.hasStartedStreaming() {
		rw.WriteEvent(context.Background(), api.StageEvent{
			Type: api.EventQueryFailed,
			Envelope: &api.ResponseEnvelope{
				Object:      "query",
				Error:       apiErr.Message,
				FailureKind: api.FailureExecutionError,
			},
		})
		return
	}

	transport.WriteAPIError(w, apiErr)
}
