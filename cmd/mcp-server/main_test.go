package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/app"
	"github.com/rhuss/kgquery/pkg/config"
	"github.com/rhuss/kgquery/pkg/sandbox"
)

type stubSandbox struct{}

func (stubSandbox) Name() string { return "stub" }

func (stubSandbox) Run(_ context.Context, _ sandbox.Request) api.ExecutionResult {
	return api.ExecutionResult{
		Status: api.ExecutionSucceeded,
		Payload: map[string]any{
			"data":     []any{map[string]any{"id": "FOOD", "node_type": "sbu"}},
			"metadata": map[string]any{"files_loaded": 1},
			"summary":  map[string]any{"total_records": 1},
		},
	}
}

// connect starts the tool server over in-memory transports and returns a
// client session plus the dataset directory.
func connect(t *testing.T) (*mcp.ClientSession, string) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Dataset.Path = t.TempDir()

	sc := sandbox.DefaultConfig()
	sc.DataRoot = cfg.Dataset.Path
	srv := httptest.NewServer(sandbox.Handler(sandbox.NewExecutor(stubSandbox{}, sc), 2))
	t.Cleanup(srv.Close)

	cfg.Sandbox.Backend = sandbox.BackendRemote
	cfg.Sandbox.RemoteURL = srv.URL
	cfg.Storage.Type = "none"

	ctx := context.Background()
	a, err := app.New(ctx, &cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() {
		_ = newServer(a).Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session, cfg.Dataset.Path
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("CallTool(%s) returned %d content items, want 1", name, len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s) content = %T, want *mcp.TextContent", name, res.Content[0])
	}
	return tc.Text, res.IsError
}

func TestListTools(t *testing.T) {
	session, _ := connect(t)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"query_graph", "list_partitions"} {
		if !names[want] {
			t.Errorf("tool %q not listed", want)
		}
	}
}

func TestQueryGraph(t *testing.T) {
	session, _ := connect(t)

	text, isError := callText(t, session, "query_graph", map[string]any{
		"query": "Show FOOD SBU totals for January 2022",
	})
	if isError {
		t.Fatalf("query_graph reported an error: %s", text)
	}
	var env api.ResponseEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if !env.ExecutionSuccess {
		t.Errorf("execution_success = false, error %q", env.Error)
	}
	if env.Analysis == nil || len(env.Analysis.ExtractedDateRange) != 1 {
		t.Errorf("analysis = %+v, want one extracted date", env.Analysis)
	}
}

func TestQueryGraph_InvalidDates(t *testing.T) {
	session, _ := connect(t)

	text, isError := callText(t, session, "query_graph", map[string]any{
		"query": "Show FOOD totals",
		"dates": []string{"2022-01"},
	})
	if !isError {
		t.Fatal("expected tool error for malformed date")
	}
	if !strings.Contains(text, "YYYYMM") {
		t.Errorf("error text = %q, want format hint", text)
	}
}

func TestListPartitions(t *testing.T) {
	session, dir := connect(t)
	for _, name := range []string{"202201.json", "202203.json", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(`{"nodes": [], "links": []}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	text, isError := callText(t, session, "list_partitions", map[string]any{})
	if isError {
		t.Fatalf("list_partitions reported an error: %s", text)
	}
	var got struct {
		Object    string   `json:"object"`
		FileCount int      `json:"file_count"`
		DateRange []string `json:"date_range"`
	}
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("decoding listing: %v", err)
	}
	if got.Object != "list" || got.FileCount != 2 {
		t.Errorf("listing = %+v, want 2 files", got)
	}
	if strings.Join(got.DateRange, ",") != "202201,202203" {
		t.Errorf("date_range = %v, want [202201 202203]", got.DateRange)
	}
}
