package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/classify"
	"github.com/rhuss/kgquery/pkg/sandbox"
)

// stubSandbox answers every execution with a single FOOD node.
type stubSandbox struct {
	runs atomic.Int32
}

func (b *stubSandbox) Name() string { return "stub" }

func (b *stubSandbox) Run(_ context.Context, _ sandbox.Request) api.ExecutionResult {
	b.runs.Add(1)
	return api.ExecutionResult{
		Status: api.ExecutionSucceeded,
		Payload: map[string]any{
			"data":     []any{map[string]any{"id": "FOOD", "node_type": "sbu"}},
			"metadata": map[string]any{"files_loaded": 1},
			"summary":  map[string]any{"total_records": 1},
		},
	}
}

// isolate points configuration discovery at an empty file and the dataset
// at a fresh directory, which it returns.
func isolate(t *testing.T) string {
	t.Helper()
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KGQUERY_CONFIG", cfgFile)
	dir := t.TempDir()
	t.Setenv("KGQUERY_DATASET_PATH", dir)
	return dir
}

// withStubSandbox routes sandbox executions to a remote server backed by a
// stub and disables storage. It must run after isolate.
func withStubSandbox(t *testing.T) *stubSandbox {
	t.Helper()
	stub := &stubSandbox{}
	sc := sandbox.DefaultConfig()
	sc.DataRoot = os.Getenv("KGQUERY_DATASET_PATH")
	srv := httptest.NewServer(sandbox.Handler(sandbox.NewExecutor(stub, sc), 2))
	t.Cleanup(srv.Close)
	t.Setenv("KGQUERY_SANDBOX_BACKEND", sandbox.BackendRemote)
	t.Setenv("KGQUERY_SANDBOX_URL", srv.URL)
	t.Setenv("KGQUERY_STORAGE", "none")
	return stub
}

func execute(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestDates(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "", "dates", "--json", "Show", "FOOD", "totals", "for", "January", "2022", "and", "March", "2022")
	if err != nil {
		t.Fatalf("dates: %v", err)
	}
	var got struct {
		Dates []string `json:"dates"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	want := []string{"202201", "202203"}
	if strings.Join(got.Dates, ",") != strings.Join(want, ",") {
		t.Errorf("dates = %v, want %v", got.Dates, want)
	}
}

func TestDates_NoneFound(t *testing.T) {
	isolate(t)

	out, errOut, err := execute(t, "", "dates", "list all SBUs")
	if err != nil {
		t.Fatalf("dates: %v", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}
	if !strings.Contains(errOut, "no dates found") {
		t.Errorf("stderr = %q, want no dates message", errOut)
	}
}

func TestClassify_KeywordRules(t *testing.T) {
	isolate(t)

	query := "Show FOOD SBU totals for January 2022"
	out, _, err := execute(t, "", "classify", "--json", query)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var got struct {
		Strategy string            `json:"strategy"`
		Analysis api.QueryAnalysis `json:"analysis"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if got.Strategy != classify.StrategyKeyword {
		t.Errorf("strategy = %q, want %q", got.Strategy, classify.StrategyKeyword)
	}
	if len(got.Analysis.ExtractedDateRange) != 1 || got.Analysis.ExtractedDateRange[0] != "202201" {
		t.Errorf("extracted dates = %v, want [202201]", got.Analysis.ExtractedDateRange)
	}
	if got.Analysis.QueryPattern == "" {
		t.Error("query pattern is empty")
	}
}

func TestClassify_TextOutput(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "", "classify", "top products in 2022")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	for _, label := range []string{"Type:", "Pattern:", "Dates:", "Strategy:   keyword"} {
		if !strings.Contains(out, label) {
			t.Errorf("output missing %q:\n%s", label, out)
		}
	}
}

func TestPartitions(t *testing.T) {
	dir := isolate(t)
	for _, name := range []string{"202202.json", "202201.json", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(`{"nodes": [], "links": []}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out, _, err := execute(t, "", "partitions", "--json")
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	var got struct {
		Object    string   `json:"object"`
		FileCount int      `json:"file_count"`
		DateRange []string `json:"date_range"`
		Data      []struct {
			Date string `json:"date"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if got.Object != "list" {
		t.Errorf("object = %q, want list", got.Object)
	}
	if got.FileCount != 2 {
		t.Errorf("file_count = %d, want 2", got.FileCount)
	}
	if len(got.Data) != 2 || got.Data[0].Date != "202201" {
		t.Errorf("data = %+v, want 202201 then 202202", got.Data)
	}

	out, _, err = execute(t, "", "partitions")
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if !strings.Contains(out, "2 partitions, 202201 to 202202") {
		t.Errorf("output = %q, want summary line", out)
	}
}

func TestPartitions_Empty(t *testing.T) {
	dir := isolate(t)

	out, _, err := execute(t, "", "partitions")
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if !strings.Contains(out, "no partitions in "+dir) {
		t.Errorf("output = %q, want empty message", out)
	}
}

func TestRun(t *testing.T) {
	isolate(t)
	stub := withStubSandbox(t)

	out, _, err := execute(t, "", "run", "--json", "Show FOOD SBU totals for January 2022")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var env api.ResponseEnvelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if !env.ExecutionSuccess {
		t.Errorf("execution_success = false, error %q", env.Error)
	}
	if env.Query != "Show FOOD SBU totals for January 2022" {
		t.Errorf("query = %q", env.Query)
	}
	if stub.runs.Load() != 1 {
		t.Errorf("sandbox runs = %d, want 1", stub.runs.Load())
	}
}

func TestRun_TextOutputAndEvents(t *testing.T) {
	isolate(t)
	withStubSandbox(t)

	out, errOut, err := execute(t, "", "run", "--events", "Show", "FOOD", "SBU", "totals")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out, "OK\n") {
		t.Errorf("output = %q, want OK first", out)
	}
	if !strings.Contains(out, "Query:      Show FOOD SBU totals") {
		t.Errorf("output missing joined query:\n%s", out)
	}
	for _, ev := range []string{string(api.EventQueryCreated), string(api.StageExecute), string(api.EventQueryCompleted)} {
		if !strings.Contains(errOut, ev) {
			t.Errorf("events missing %q:\n%s", ev, errOut)
		}
	}
}

func TestRun_InvalidDates(t *testing.T) {
	isolate(t)
	stub := withStubSandbox(t)

	_, _, err := execute(t, "", "run", "--dates", "2022", "Show FOOD totals")
	if err == nil || !strings.Contains(err.Error(), "YYYYMM") {
		t.Fatalf("err = %v, want date format error", err)
	}
	if stub.runs.Load() != 0 {
		t.Errorf("sandbox runs = %d, want 0", stub.runs.Load())
	}
}

func TestBatch(t *testing.T) {
	isolate(t)
	stub := withStubSandbox(t)

	input := "# questions\nShow FOOD SBU totals for January 2022\n\nCompare FOOD and DAIRY in 2022\n"
	out, _, err := execute(t, input, "batch", "--json", "-c", "2", "-")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	for i, want := range []string{"Show FOOD SBU totals for January 2022", "Compare FOOD and DAIRY in 2022"} {
		var env api.ResponseEnvelope
		if err := json.Unmarshal([]byte(lines[i]), &env); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if env.Query != want {
			t.Errorf("line %d query = %q, want %q", i, env.Query, want)
		}
		if !env.ExecutionSuccess {
			t.Errorf("line %d failed: %s", i, env.Error)
		}
	}
	if stub.runs.Load() != 2 {
		t.Errorf("sandbox runs = %d, want 2", stub.runs.Load())
	}
}

func TestBatch_ReportsFailures(t *testing.T) {
	isolate(t)
	stub := withStubSandbox(t)
	t.Setenv("KGQUERY_MAX_QUERY_LENGTH", "20")

	path := filepath.Join(t.TempDir(), "queries.txt")
	content := "FOOD totals 2022\nShow FOOD SBU totals for January 2022\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "", "batch", path)
	if err == nil || err.Error() != "1 of 2 queries failed" {
		t.Fatalf("err = %v, want 1 of 2 queries failed", err)
	}
	if !strings.Contains(out, "1 succeeded, 1 failed") {
		t.Errorf("output missing totals:\n%s", out)
	}
	if !strings.Contains(out, "invalid_request") {
		t.Errorf("output missing rejection kind:\n%s", out)
	}
	if stub.runs.Load() != 1 {
		t.Errorf("sandbox runs = %d, want 1", stub.runs.Load())
	}
}

func TestReadQueries(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"plain", "a\nb\n", []string{"a", "b"}},
		{"comments and blanks", "# header\n\n  a  \n#b\n", []string{"a"}},
		{"no trailing newline", "a", []string{"a"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readQueries(strings.NewReader(tt.input), "-")
			if err != nil {
				t.Fatalf("readQueries: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("readQueries = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := readQueries(nil, filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBatch_EmptyInput(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "# nothing\n", "batch", "-")
	if err == nil || !strings.Contains(err.Error(), "no queries") {
		t.Errorf("err = %v, want no queries error", err)
	}
}
