package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/classify"
	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/sandbox"
	"github.com/rhuss/kgquery/pkg/schema"
	"github.com/rhuss/kgquery/pkg/synth"
	"github.com/rhuss/kgquery/pkg/temporal"
	"github.com/rhuss/kgquery/pkg/transport"
)

// Executor runs a repaired program. *sandbox.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) api.ExecutionResult
}

// Observer receives the stage events of one query in order. It is called
// on the goroutine running the query.
type Observer func(api.StageEvent)

// Engine orchestrates the pipeline stages for each query. It implements
// transport.QueryRunner and is safe for concurrent use; queries share no
// mutable state.
type Engine struct {
	extractor  *temporal.Extractor
	classifier *classify.Classifier
	synth      *synth.Synthesizer
	executor   Executor
	store      transport.QueryStore
	cfg        Config
	now        func() time.Time
}

// Ensure Engine implements transport.QueryRunner at compile time.
var _ transport.QueryRunner = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithExtractor replaces the date extractor.
func WithExtractor(x *temporal.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithClassifier replaces the keyword-only default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithSynthesizer replaces the template-only default synthesizer.
func WithSynthesizer(s *synth.Synthesizer) Option {
	return func(e *Engine) { e.synth = s }
}

// WithClock sets the clock used for timestamps and the default extractor.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a new Engine. The executor must not be nil. The store can be
// nil, in which case envelopes are not persisted.
func New(executor Executor, store transport.QueryStore, cfg Config, opts ...Option) (*Engine, error) {
	if executor == nil {
		return nil, fmt.Errorf("engine: executor must not be nil")
	}
	e := &Engine{
		executor: executor,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.extractor == nil {
		e.extractor = temporal.New(temporal.WithClock(e.now))
	}
	if e.classifier == nil {
		e.classifier = classify.New(schema.Default(), e.extractor, classify.WithClock(e.now))
	}
	if e.synth == nil {
		e.synth = synth.New(schema.Default())
	}
	return e, nil
}

// RunQuery validates req and runs it. Streaming requests receive every stage
// event followed by a terminal query.completed or query.failed event;
// non-streaming requests receive the finished envelope. Pipeline failures
// are reported inside the envelope, only validation and write errors are
// returned.
func (e *Engine) RunQuery(ctx context.Context, req *api.QueryRequest, w transport.ResultWriter) error {
	if apiErr := api.ValidateQueryRequest(req, e.cfg.validation()); apiErr != nil {
		return apiErr
	}

	if !req.Stream {
		env := e.Run(ctx, req, nil)
		return w.WriteEnvelope(ctx, env)
	}

	var writeErr error
	e.Run(ctx, req, func(ev api.StageEvent) {
		if writeErr != nil {
			return
		}
		if err := w.WriteEvent(ctx, ev); err != nil {
			debug.Log("engine", "event write failed", "query_id", ev.QueryID, "type", ev.Type, "error", err)
			writeErr = err
		}
	})
	return writeErr
}

// Run moves req through every stage and returns the envelope. It never
// fails: a stage that panics or a cancelled context ends the query with an
// execution_error envelope. The request is not validated; callers outside
// RunQuery validate it themselves. observe may be nil.
func (e *Engine) Run(ctx context.Context, req *api.QueryRequest, observe Observer) *api.ResponseEnvelope {
	r := newRun(ctx, e, req, observe)
	r.execute()
	return r.env
}

func (e *Engine) save(ctx context.Context, env *api.ResponseEnvelope) {
	if e.store == nil {
		return
	}
	// The envelope of a cancelled query is still recorded.
	if err := e.store.SaveEnvelope(context.WithoutCancel(ctx), env); err != nil {
		slog.Warn("failed to store query envelope", "query_id", env.ID, "error", err)
	}
}
