package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
	kgdebug "github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/observability"
	"github.com/rhuss/kgquery/pkg/partition"
	"github.com/rhuss/kgquery/pkg/project"
	"github.com/rhuss/kgquery/pkg/repair"
	"github.com/rhuss/kgquery/pkg/sandbox"
	"github.com/rhuss/kgquery/pkg/synth"
)

// Repair outcomes recorded in kgquery_repair_outcomes_total.
const (
	repairValid    = "valid"
	repairRepaired = "repaired"
	repairFallback = "fallback"
)

// run is the state of one query moving through the stages. Each stage
// reads what earlier stages produced and fills in its part of env.
type run struct {
	ctx    context.Context
	e      *Engine
	req    *api.QueryRequest
	env    *api.ResponseEnvelope
	events *eventStream
	start  time.Time

	dates    []string
	analysis api.QueryAnalysis
	files    []string
	artifact api.CodeArtifact
	result   api.ExecutionResult
}

type stageFunc func(r *run) map[string]any

var pipeline = []struct {
	stage api.Stage
	fn    stageFunc
}{
	{api.StageExtract, (*run).extract},
	{api.StageClassify, (*run).classify},
	{api.StageResolve, (*run).resolve},
	{api.StageSynthesize, (*run).synthesize},
	{api.StageRepair, (*run).repair},
	{api.StageExecute, (*run).executeProgram},
	{api.StageProject, (*run).project},
}

func newRun(ctx context.Context, e *Engine, req *api.QueryRequest, observe Observer) *run {
	start := time.Now()
	env := &api.ResponseEnvelope{
		ID:             api.NewQueryID(),
		Object:         "query",
		CreatedAt:      e.now().Unix(),
		Query:          req.Query,
		CodeValidation: api.CodeValidation{Errors: []string{}},
		Insights:       []string{},
		TargetFiles:    []string{},
	}
	return &run{
		ctx:    ctx,
		e:      e,
		req:    req,
		env:    env,
		events: &eventStream{queryID: env.ID, start: start, observe: observe},
		start:  start,
	}
}

func (r *run) execute() {
	r.events.created(r.env.CreatedAt)

	for _, st := range pipeline {
		if err := r.runStage(st.stage, st.fn); err != nil {
			r.abort(st.stage, err)
			break
		}
	}

	r.env.ElapsedMS = time.Since(r.start).Milliseconds()
	observability.QueriesTotal.WithLabelValues(queryTypeLabel(r.env.QueryType), outcomeLabel(r.env)).Inc()
	kgdebug.Log("engine", "query finished", "query_id", r.env.ID,
		"success", r.env.ExecutionSuccess, "failure_kind", r.env.FailureKind, "elapsed_ms", r.env.ElapsedMS)

	r.e.save(r.ctx, r.env)
	r.events.finished(r.env)
}

// runStage runs one stage, converting a panic into an error. A context
// cancelled before the stage starts also ends the query.
func (r *run) runStage(stage api.Stage, fn stageFunc) (err error) {
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return fmt.Errorf("query cancelled: %w", ctxErr)
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("panic in pipeline stage", "query_id", r.env.ID, "stage", stage,
				"panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error in %s stage: %v", stage, p)
		}
	}()

	detail := fn(r)
	elapsed := time.Since(start)
	observability.ObserveStage(string(stage), elapsed)
	kgdebug.Log("engine", "stage done", "query_id", r.env.ID, "stage", stage, "elapsed_ms", elapsed.Milliseconds())
	r.events.stage(stage, elapsed, detail)
	return nil
}

// abort turns a stage failure into a terminal execution_error envelope.
func (r *run) abort(stage api.Stage, err error) {
	kgdebug.Log("engine", "query aborted", "query_id", r.env.ID, "stage", stage, "error", err)
	r.env.ExecutionSuccess = false
	r.env.Error = err.Error()
	r.env.FailureKind = api.FailureExecutionError
	r.env.Data = &api.Projection{Error: err.Error()}
	r.env.Insights = project.Insights(r.env.Data)
}

func (r *run) extract() map[string]any {
	r.dates = r.e.extractor.Extract(r.req.Query)
	return map[string]any{
		"dates":          nonNil(r.dates),
		"explicit_dates": nonNil(r.req.Dates),
	}
}

func (r *run) classify() map[string]any {
	res := r.e.classifier.Classify(r.ctx, r.req.Query, r.dates)
	r.analysis = res.Analysis
	r.env.QueryType = r.analysis.Type
	analysis := r.analysis
	r.env.Analysis = &analysis

	detail := map[string]any{
		"query_type":    r.analysis.Type,
		"query_pattern": r.analysis.QueryPattern,
		"time_scope":    r.analysis.TimeScope,
		"strategy":      res.Strategy,
	}
	if res.Rule != "" {
		detail["rule"] = res.Rule
	}
	if res.BackendErr != nil {
		detail["backend_error"] = res.BackendErr.Error()
	}
	return detail
}

func (r *run) resolve() map[string]any {
	r.files = nonNil(partition.Resolve(r.analysis, r.e.cfg.DatasetPath, r.req.Dates))
	r.env.TargetFiles = r.files
	summary := partition.Describe(r.files)
	return map[string]any{
		"file_count":    summary.FileCount,
		"date_range":    summary.DateRange,
		"total_size_mb": summary.TotalSizeMB,
	}
}

func (r *run) synthesize() map[string]any {
	r.artifact = r.e.synth.Synthesize(r.ctx, r.req.Query, r.analysis, r.files)
	return map[string]any{
		"origin": r.artifact.Origin,
		"bytes":  len(r.artifact.Source),
	}
}

// repair runs the repair funnel and replaces the artifact with either the
// repaired program or the fallback program.
func (r *run) repair() map[string]any {
	drafted := r.artifact
	code, valid, errs := repair.FormatAndValidate(drafted.Source)

	outcome := repairValid
	switch {
	case !valid:
		outcome = repairFallback
		r.artifact = api.CodeArtifact{
			Source:           synth.FallbackCode(r.req.Query, r.files),
			Origin:           api.CodeOriginTemplate,
			Validated:        true,
			ValidationErrors: errs,
		}
		slog.Warn("program could not be repaired, using fallback", "query_id", r.env.ID, "errors", len(errs))
	case changed(code, drafted.Source):
		outcome = repairRepaired
		fallthrough
	default:
		r.artifact = api.CodeArtifact{
			Source:           code,
			Origin:           drafted.Origin,
			Validated:        true,
			ValidationErrors: errs,
		}
	}
	observability.RepairOutcomesTotal.WithLabelValues(string(drafted.Origin), outcome).Inc()

	r.env.GeneratedCode = r.artifact.Source
	if changed(r.artifact.Source, drafted.Source) {
		r.env.OriginalCode = drafted.Source
	}
	r.env.CodeValidation = api.CodeValidation{
		IsValid:      valid,
		Errors:       nonNil(errs),
		UsedFallback: !valid,
	}
	return map[string]any{
		"outcome":       outcome,
		"valid":         valid,
		"used_fallback": !valid,
		"errors":        len(errs),
	}
}

func (r *run) executeProgram() map[string]any {
	r.result = r.e.executor.Execute(r.ctx, sandbox.Request{
		Code:          r.artifact.Source,
		WorkDir:       r.e.cfg.DatasetPath,
		Timeout:       r.e.cfg.Timeout,
		MemoryLimitMB: r.e.cfg.MemoryLimitMB,
	})
	r.env.ExecutionSuccess = r.result.Success
	r.env.Error = r.result.Error
	r.env.FailureKind = r.result.FailureKind
	r.env.ExecutionTimeMS = r.result.ExecutionTimeMS

	detail := map[string]any{
		"status":            r.result.Status,
		"backend":           r.result.Backend,
		"execution_time_ms": r.result.ExecutionTimeMS,
	}
	if r.result.FailureKind != "" {
		detail["failure_kind"] = r.result.FailureKind
	}
	return detail
}

func (r *run) project() map[string]any {
	r.env.Data = project.Project(r.result, &r.analysis, r.e.now())
	r.env.Insights = project.Insights(r.env.Data)
	return map[string]any{"insights": len(r.env.Insights)}
}

// changed ignores surrounding whitespace, which the repair funnel
// normalizes on every program.
func changed(code, original string) bool {
	return strings.TrimSpace(code) != strings.TrimSpace(original)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func queryTypeLabel(t string) string {
	if t == "" {
		return "unknown"
	}
	return t
}

func outcomeLabel(env *api.ResponseEnvelope) string {
	if env.ExecutionSuccess {
		return "success"
	}
	if env.FailureKind != "" {
		return string(env.FailureKind)
	}
	return "failed"
}
