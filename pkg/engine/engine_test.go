package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/classify"
	"github.com/rhuss/kgquery/pkg/provider"
	"github.com/rhuss/kgquery/pkg/sandbox"
	"github.com/rhuss/kgquery/pkg/schema"
	"github.com/rhuss/kgquery/pkg/storage/memory"
	"github.com/rhuss/kgquery/pkg/synth"
	"github.com/rhuss/kgquery/pkg/temporal"
	"github.com/rhuss/kgquery/pkg/transport"
)

var fixedNow = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

// mockExecutor records requests and returns a canned result.
type mockExecutor struct {
	mu       sync.Mutex
	requests []sandbox.Request
	result   api.ExecutionResult
	panicMsg string
}

func (m *mockExecutor) Execute(_ context.Context, req sandbox.Request) api.ExecutionResult {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.result
}

func (m *mockExecutor) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func successResult() api.ExecutionResult {
	return api.ExecutionResult{
		Success: true,
		Status:  api.ExecutionSucceeded,
		Payload: map[string]any{
			"data": []any{
				map[string]any{"node_id": "20220101-FOOD-Total-Total", "node_type": "SBU", "sbu": "FOOD"},
			},
			"metadata": map[string]any{"files": float64(1)},
			"summary":  map[string]any{"total_records": float64(1)},
		},
		Backend:         "mock",
		ExecutionTimeMS: 12,
	}
}

// mockResultWriter captures WriteEnvelope and WriteEvent calls for testing.
type mockResultWriter struct {
	envelope      *api.ResponseEnvelope
	events        []api.StageEvent
	writeEnvCalls int
	writeEvtCalls int
}

func (w *mockResultWriter) WriteEvent(_ context.Context, event api.StageEvent) error {
	w.events = append(w.events, event)
	w.writeEvtCalls++
	return nil
}

func (w *mockResultWriter) WriteEnvelope(_ context.Context, env *api.ResponseEnvelope) error {
	w.envelope = env
	w.writeEnvCalls++
	return nil
}

func (w *mockResultWriter) Flush() error { return nil }

// Ensure mockResultWriter implements transport.ResultWriter.
var _ transport.ResultWriter = (*mockResultWriter)(nil)

// newDataset writes empty partitions for the given dates.
func newDataset(t *testing.T, dates ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, d := range dates {
		content := `{"directed": true, "multigraph": false, "graph": {}, "nodes": [], "links": []}`
		if err := os.WriteFile(filepath.Join(dir, d+".json"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestEngine(t *testing.T, exec Executor, store transport.QueryStore, dataset string, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	e, err := New(exec, store, Config{DatasetPath: dataset}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewRequiresExecutor(t *testing.T) {
	if _, err := New(nil, nil, Config{}); err == nil {
		t.Error("expected error for nil executor")
	}
}

func TestEngine_RunQuery_NonStreaming(t *testing.T) {
	dataset := newDataset(t, "202112", "202201", "202202")
	exec := &mockExecutor{result: successResult()}
	e := newTestEngine(t, exec, nil, dataset)

	w := &mockResultWriter{}
	req := &api.QueryRequest{Query: "Show FOOD SBU totals for January 2022"}
	if err := e.RunQuery(context.Background(), req, w); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}

	if w.writeEnvCalls != 1 || w.writeEvtCalls != 0 {
		t.Fatalf("WriteEnvelope calls = %d, WriteEvent calls = %d", w.writeEnvCalls, w.writeEvtCalls)
	}
	env := w.envelope
	if !api.ValidateQueryID(env.ID) {
		t.Errorf("ID = %q, not a valid query ID", env.ID)
	}
	if env.Object != "query" {
		t.Errorf("Object = %q, want %q", env.Object, "query")
	}
	if env.CreatedAt != fixedNow.Unix() {
		t.Errorf("CreatedAt = %d, want %d", env.CreatedAt, fixedNow.Unix())
	}
	if !env.ExecutionSuccess {
		t.Errorf("ExecutionSuccess = false, error %q", env.Error)
	}
	wantFile := filepath.Join(dataset, "202201.json")
	if len(env.TargetFiles) != 1 || env.TargetFiles[0] != wantFile {
		t.Errorf("TargetFiles = %v, want [%s]", env.TargetFiles, wantFile)
	}
	if env.Analysis == nil || env.QueryType != env.Analysis.Type || env.QueryType == "" {
		t.Errorf("QueryType = %q, Analysis = %+v", env.QueryType, env.Analysis)
	}
	if got := env.Analysis.ExtractedDateRange; len(got) != 1 || got[0] != "202201" {
		t.Errorf("ExtractedDateRange = %v, want [202201]", got)
	}
	if !env.CodeValidation.IsValid || env.CodeValidation.UsedFallback {
		t.Errorf("CodeValidation = %+v", env.CodeValidation)
	}
	if !strings.Contains(env.GeneratedCode, "print(json.dumps(results))") {
		t.Errorf("GeneratedCode lacks the emit statement:\n%s", env.GeneratedCode)
	}
	if env.OriginalCode != "" {
		t.Errorf("OriginalCode = %q, want empty for an unchanged template", env.OriginalCode)
	}
	if env.ExecutionTimeMS != 12 {
		t.Errorf("ExecutionTimeMS = %d, want 12", env.ExecutionTimeMS)
	}
	if env.Data == nil || env.Data.Summary["total_records"] != float64(1) {
		t.Errorf("Data = %+v", env.Data)
	}
	if len(env.Insights) == 0 || env.Insights[0] != "Found 1 data points matching your query" {
		t.Errorf("Insights = %v", env.Insights)
	}

	if exec.calls() != 1 {
		t.Fatalf("executor called %d times, want 1", exec.calls())
	}
	got := exec.requests[0]
	if got.WorkDir != dataset {
		t.Errorf("WorkDir = %q, want %q", got.WorkDir, dataset)
	}
	if got.Code != env.GeneratedCode {
		t.Error("executed code differs from GeneratedCode")
	}
}

func TestEngine_RunQuery_Streaming(t *testing.T) {
	dataset := newDataset(t, "202201")
	e := newTestEngine(t, &mockExecutor{result: successResult()}, nil, dataset)

	w := &mockResultWriter{}
	req := &api.QueryRequest{Query: "Show FOOD SBU totals for January 2022", Stream: true}
	if err := e.RunQuery(context.Background(), req, w); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if w.writeEnvCalls != 0 {
		t.Errorf("WriteEnvelope called %d times on a streaming request", w.writeEnvCalls)
	}

	wantLen := len(api.Stages) + 2
	if len(w.events) != wantLen {
		t.Fatalf("got %d events, want %d", len(w.events), wantLen)
	}
	if w.events[0].Type != api.EventQueryCreated {
		t.Errorf("events[0].Type = %q, want %q", w.events[0].Type, api.EventQueryCreated)
	}
	for i, stage := range api.Stages {
		ev := w.events[i+1]
		if ev.Type != api.EventQueryStage || ev.Stage != stage {
			t.Errorf("events[%d] = %s/%s, want %s/%s", i+1, ev.Type, ev.Stage, api.EventQueryStage, stage)
		}
	}
	last := w.events[wantLen-1]
	if last.Type != api.EventQueryCompleted {
		t.Errorf("last event type = %q, want %q", last.Type, api.EventQueryCompleted)
	}
	if last.Envelope == nil || !last.Envelope.ExecutionSuccess {
		t.Fatalf("terminal envelope = %+v", last.Envelope)
	}

	for i, ev := range w.events {
		if ev.SequenceNumber != i {
			t.Errorf("events[%d].SequenceNumber = %d", i, ev.SequenceNumber)
		}
		if ev.QueryID != last.Envelope.ID {
			t.Errorf("events[%d].QueryID = %q, want %q", i, ev.QueryID, last.Envelope.ID)
		}
	}

	resolve := w.events[3]
	if resolve.Detail["file_count"] != 1 {
		t.Errorf("resolve detail = %v", resolve.Detail)
	}
}

func TestEngine_RunQuery_Validation(t *testing.T) {
	exec := &mockExecutor{result: successResult()}
	e := newTestEngine(t, exec, nil, t.TempDir())

	tests := []struct {
		name      string
		req       *api.QueryRequest
		wantParam string
	}{
		{"empty query", &api.QueryRequest{Query: "  "}, "query"},
		{"too long", &api.QueryRequest{Query: strings.Repeat("a", 4097)}, "query"},
		{"bad date", &api.QueryRequest{Query: "totals", Dates: []string{"2022-01"}}, "dates[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &mockResultWriter{}
			err := e.RunQuery(context.Background(), tt.req, w)
			var apiErr *api.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *api.APIError", err)
			}
			if apiErr.Type != api.ErrorTypeInvalidRequest || apiErr.Param != tt.wantParam {
				t.Errorf("error = %+v, want invalid_request on %q", apiErr, tt.wantParam)
			}
			if w.writeEnvCalls+w.writeEvtCalls != 0 {
				t.Error("writer used for an invalid request")
			}
		})
	}
	if exec.calls() != 0 {
		t.Errorf("executor called %d times", exec.calls())
	}
}

func TestEngine_ExplicitDatesWithoutPartitions(t *testing.T) {
	dataset := newDataset(t, "202201")
	exec := &mockExecutor{result: api.ExecutionResult{
		Success: true,
		Status:  api.ExecutionSucceeded,
		Payload: map[string]any{
			"data":    []any{},
			"summary": map[string]any{"total_records": float64(0)},
		},
	}}
	e := newTestEngine(t, exec, nil, dataset)

	env := e.Run(context.Background(), &api.QueryRequest{Query: "Show totals for June 2099", Dates: []string{"209906"}}, nil)
	if len(env.TargetFiles) != 0 || env.TargetFiles == nil {
		t.Errorf("TargetFiles = %#v, want empty list", env.TargetFiles)
	}
	if !env.ExecutionSuccess {
		t.Errorf("ExecutionSuccess = false, error %q", env.Error)
	}
	if env.Data.Summary["total_records"] != float64(0) {
		t.Errorf("summary = %v", env.Data.Summary)
	}
}

func TestEngine_ExecutionFailure(t *testing.T) {
	exec := &mockExecutor{result: api.ExecutionResult{
		Status:      api.ExecutionFailed,
		Error:       `import of module "socket" is not allowed`,
		FailureKind: api.FailureSandboxRejection,
	}}
	e := newTestEngine(t, exec, nil, newDataset(t, "202201"))

	var events []api.StageEvent
	env := e.Run(context.Background(), &api.QueryRequest{Query: "Show FOOD SBU totals for January 2022"},
		func(ev api.StageEvent) { events = append(events, ev) })

	if env.ExecutionSuccess {
		t.Fatal("ExecutionSuccess = true")
	}
	if env.FailureKind != api.FailureSandboxRejection {
		t.Errorf("FailureKind = %q", env.FailureKind)
	}
	if env.Data == nil || env.Data.Error != env.Error {
		t.Errorf("Data = %+v", env.Data)
	}
	want := `Query execution failed: import of module "socket" is not allowed`
	if len(env.Insights) != 1 || env.Insights[0] != want {
		t.Errorf("Insights = %v, want [%s]", env.Insights, want)
	}
	if last := events[len(events)-1]; last.Type != api.EventQueryFailed {
		t.Errorf("terminal event = %q, want %q", last.Type, api.EventQueryFailed)
	}
}

func TestEngine_RecoversStagePanic(t *testing.T) {
	exec := &mockExecutor{panicMsg: "executor exploded"}
	e := newTestEngine(t, exec, nil, newDataset(t, "202201"))

	var events []api.StageEvent
	env := e.Run(context.Background(), &api.QueryRequest{Query: "Show FOOD SBU totals for January 2022"},
		func(ev api.StageEvent) { events = append(events, ev) })

	if env.ExecutionSuccess {
		t.Fatal("ExecutionSuccess = true")
	}
	if env.FailureKind != api.FailureExecutionError {
		t.Errorf("FailureKind = %q, want %q", env.FailureKind, api.FailureExecutionError)
	}
	if !strings.Contains(env.Error, "execute stage") || !strings.Contains(env.Error, "executor exploded") {
		t.Errorf("Error = %q", env.Error)
	}
	// created + extract..repair + failed
	if len(events) != 7 {
		t.Errorf("got %d events, want 7", len(events))
	}
	for _, ev := range events {
		if ev.Stage == api.StageExecute || ev.Stage == api.StageProject {
			t.Errorf("unexpected %s stage event after panic", ev.Stage)
		}
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	exec := &mockExecutor{result: successResult()}
	e := newTestEngine(t, exec, nil, newDataset(t, "202201"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := e.Run(ctx, &api.QueryRequest{Query: "Show FOOD SBU totals for January 2022"}, nil)

	if env.ExecutionSuccess || env.FailureKind != api.FailureExecutionError {
		t.Errorf("envelope = success %v kind %q", env.ExecutionSuccess, env.FailureKind)
	}
	if !strings.HasPrefix(env.Error, "query cancelled") {
		t.Errorf("Error = %q", env.Error)
	}
	if exec.calls() != 0 {
		t.Errorf("executor called %d times after cancellation", exec.calls())
	}
}

func TestEngine_RepairFallback(t *testing.T) {
	broken := "def analyze(:\n    return 1\n"
	backend := provider.BackendFunc(func(_ context.Context, prompt string) (string, error) {
		return "```python\n" + broken + "```", nil
	})
	exec := &mockExecutor{result: successResult()}
	e := newTestEngine(t, exec, nil, newDataset(t, "202201"),
		WithSynthesizer(synth.New(schema.Default(), synth.WithBackend(backend))))

	env := e.Run(context.Background(), &api.QueryRequest{Query: "Show FOOD SBU totals for January 2022"}, nil)

	if env.CodeValidation.IsValid || !env.CodeValidation.UsedFallback {
		t.Errorf("CodeValidation = %+v", env.CodeValidation)
	}
	if len(env.CodeValidation.Errors) == 0 {
		t.Error("expected validation errors")
	}
	if !strings.Contains(env.OriginalCode, "def analyze(:") {
		t.Errorf("OriginalCode = %q", env.OriginalCode)
	}
	if !strings.Contains(env.GeneratedCode, "fallback_mode") {
		t.Errorf("GeneratedCode is not the fallback program:\n%s", env.GeneratedCode)
	}
	if exec.requests[0].Code != env.GeneratedCode {
		t.Error("executor did not run the fallback program")
	}
}

func TestEngine_BackendClassification(t *testing.T) {
	backend := provider.BackendFunc(func(_ context.Context, prompt string) (string, error) {
		return `Here you go: {"type": "comparison", "time_scope": "multi_month", "query_pattern": "store_performance",
			"target_node_types": ["store"], "extracted_date_range": ["202201", "202202"]}`, nil
	})
	x := temporal.New(temporal.WithClock(func() time.Time { return fixedNow }))
	exec := &mockExecutor{result: successResult()}
	e := newTestEngine(t, exec, nil, newDataset(t, "202201", "202202"),
		WithExtractor(x),
		WithClassifier(classify.New(schema.Default(), x, classify.WithBackend(backend))))

	var detail map[string]any
	env := e.Run(context.Background(), &api.QueryRequest{Query: "Compare stores in January and February 2022"},
		func(ev api.StageEvent) {
			if ev.Stage == api.StageClassify {
				detail = ev.Detail
			}
		})

	if env.QueryType != api.QueryTypeComparison {
		t.Errorf("QueryType = %q, want %q", env.QueryType, api.QueryTypeComparison)
	}
	if detail["strategy"] != classify.StrategyBackend {
		t.Errorf("classify detail = %v", detail)
	}
	if len(env.TargetFiles) != 2 {
		t.Errorf("TargetFiles = %v", env.TargetFiles)
	}
}

func TestEngine_StoresEnvelope(t *testing.T) {
	store := memory.New(10)
	exec := &mockExecutor{result: successResult()}
	e := newTestEngine(t, exec, store, newDataset(t, "202201"))

	w := &mockResultWriter{}
	if err := e.RunQuery(context.Background(), &api.QueryRequest{Query: "Show FOOD SBU totals for January 2022"}, w); err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	got, err := store.GetEnvelope(context.Background(), w.envelope.ID)
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if got.Query != "Show FOOD SBU totals for January 2022" {
		t.Errorf("stored Query = %q", got.Query)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := e.Run(ctx, &api.QueryRequest{Query: "cancelled early"}, nil)
	if _, err := store.GetEnvelope(context.Background(), env.ID); err != nil {
		t.Errorf("cancelled query envelope not stored: %v", err)
	}
}
