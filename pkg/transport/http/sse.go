package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/transport"
)

// writerState tracks the state of an SSE ResultWriter.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // Terminal event sent or WriteEnvelope called
)

// terminalEvents are the event types that end a query stream.
var terminalEvents = map[api.StageEventType]bool{
	api.EventQueryCompleted: true,
	api.EventQueryFailed:    true,
}

// sseResultWriter implements transport.ResultWriter for HTTP/SSE responses.
// It handles both streaming (SSE) and non-streaming (JSON) output.
type sseResultWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState

	// onQueryCreated is called when the query.created event is written,
	// providing the query ID for in-flight registry registration.
	onQueryCreated func(id string)
}

var _ transport.ResultWriter = (*sseResultWriter)(nil)

// newSSEResultWriter creates a new ResultWriter wrapping an http.ResponseWriter.
// The onCreated callback may be nil.
func newSSEResultWriter(w http.ResponseWriter, onCreated func(id string)) *sseResultWriter {
	return &sseResultWriter{
		w:              w,
		rc:             http.NewResponseController(w),
		onQueryCreated: onCreated,
	}
}

// WriteEvent sends a single SSE event. The event is formatted as:
//
//	event: {type}\n
//	data: {json}\n
//	\n
//
// After a terminal event, it also sends:
//
//	data: [DONE]\n
//	\n
func (s *sseResultWriter) WriteEvent(ctx context.Context, event api.StageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write event: writer is completed")
	}

	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
	}

	if event.Type == api.EventQueryCreated && s.onQueryCreated != nil {
		s.onQueryCreated(event.QueryID)
		s.onQueryCreated = nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if terminalEvents[event.Type] {
		if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
			return fmt.Errorf("failed to write [DONE]: %w", err)
		}
		if err := s.rc.Flush(); err != nil {
			return fmt.Errorf("failed to flush [DONE]: %w", err)
		}
		s.state = writerCompleted
	}

	return nil
}

// WriteEnvelope sends a complete non-streaming JSON envelope.
// This is mutually exclusive with WriteEvent.
func (s *sseResultWriter) WriteEnvelope(ctx context.Context, env *api.ResponseEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerStreaming {
		return errors.New("cannot write envelope: streaming has already started")
	}
	if s.state == writerCompleted {
		return errors.New("cannot write envelope: writer is completed")
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.state = writerCompleted

	if err := json.NewEncoder(s.w).Encode(env); err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return nil
}

// Flush ensures buffered data is sent to the client.
func (s *sseResultWriter) Flush() error {
	return s.rc.Flush()
}

// hasStartedStreaming returns true if at least one SSE event has been written.
func (s *sseResultWriter) hasStartedStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerStreaming || (s.state == writerCompleted && s.w.Header().Get("Content-Type") == "text/event-stream")
}
