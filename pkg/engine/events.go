package engine

import (
	"time"

	"github.com/rhuss/kgquery/pkg/api"
)

// eventStream numbers the events of one query. Sequence numbers start at 0
// and increase by one per event, terminal event included.
type eventStream struct {
	queryID string
	start   time.Time
	seq     int
	observe Observer
}

func (s *eventStream) nextSeq() int {
	n := s.seq
	s.seq++
	return n
}

func (s *eventStream) emit(ev api.StageEvent) {
	if s.observe == nil {
		return
	}
	ev.SequenceNumber = s.nextSeq()
	ev.QueryID = s.queryID
	s.observe(ev)
}

func (s *eventStream) created(createdAt int64) {
	s.emit(api.StageEvent{
		Type:   api.EventQueryCreated,
		Detail: map[string]any{"created_at": createdAt},
	})
}

func (s *eventStream) stage(stage api.Stage, elapsed time.Duration, detail map[string]any) {
	s.emit(api.StageEvent{
		Type:      api.EventQueryStage,
		Stage:     stage,
		ElapsedMS: elapsed.Milliseconds(),
		Detail:    detail,
	})
}

// finished emits query.completed for a successful execution and
// query.failed otherwise. Both carry the envelope.
func (s *eventStream) finished(env *api.ResponseEnvelope) {
	typ := api.EventQueryCompleted
	if !env.ExecutionSuccess {
		typ = api.EventQueryFailed
	}
	s.emit(api.StageEvent{
		Type:      typ,
		ElapsedMS: time.Since(s.start).Milliseconds(),
		Envelope:  env,
	})
}
