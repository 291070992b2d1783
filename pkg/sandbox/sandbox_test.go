package sandbox

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
)

// fakeBackend returns a fixed result and records the request it got.
type fakeBackend struct {
	result api.ExecutionResult
	calls  atomic.Int32

	mu   sync.Mutex
	last Request
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Run(_ context.Context, req Request) api.ExecutionResult {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return f.result
}

func (f *fakeBackend) lastRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func TestExecuteRejectsWithoutRunning(t *testing.T) {
	fb := &fakeBackend{}
	e := NewExecutor(fb, Config{})

	res := e.Execute(context.Background(), Request{Code: "import pickle\n"})
	if fb.calls.Load() != 0 {
		t.Errorf("backend called %d times, want 0", fb.calls.Load())
	}
	if res.Success || res.Status != api.ExecutionFailed {
		t.Errorf("status = %q success = %v, want failed", res.Status, res.Success)
	}
	if res.FailureKind != api.FailureSandboxRejection {
		t.Errorf("FailureKind = %q, want %q", res.FailureKind, api.FailureSandboxRejection)
	}
	if res.Error != "Import of 'pickle' is not allowed" {
		t.Errorf("Error = %q", res.Error)
	}
	if res.Payload == nil {
		t.Error("Payload = nil, want empty map")
	}
	if res.Backend != "fake" {
		t.Errorf("Backend = %q, want fake", res.Backend)
	}
}

func TestExecuteAppliesDefaults(t *testing.T) {
	fb := &fakeBackend{result: api.ExecutionResult{Status: api.ExecutionSucceeded, Payload: map[string]any{"ok": true}}}
	e := NewExecutor(fb, Config{Timeout: 7 * time.Second, MemoryLimitMB: 128})

	res := e.Execute(context.Background(), Request{Code: "import json\n", WorkDir: "/data"})
	if !res.Success || res.Status != api.ExecutionSucceeded {
		t.Fatalf("result = %+v, want success", res)
	}
	last := fb.lastRequest()
	if last.Timeout != 7*time.Second || last.MemoryLimitMB != 128 {
		t.Errorf("request limits = %s/%dMB, want 7s/128MB", last.Timeout, last.MemoryLimitMB)
	}
	if len(last.AllowedImports) != len(DefaultAllowedImports) {
		t.Errorf("AllowedImports = %v, want defaults", last.AllowedImports)
	}
	if last.WorkDir != "/data" {
		t.Errorf("WorkDir = %q, want /data", last.WorkDir)
	}
}

func TestExecuteBackendOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		result     api.ExecutionResult
		wantStatus api.ExecutionStatus
		wantKind   api.FailureKind
		wantErr    string
	}{
		{
			name:       "succeeded",
			result:     api.ExecutionResult{Status: api.ExecutionSucceeded, Payload: map[string]any{}},
			wantStatus: api.ExecutionSucceeded,
		},
		{
			name:       "timed out",
			result:     api.ExecutionResult{Status: api.ExecutionTimedOut, FailureKind: api.FailureSandboxTimeout, Error: "Code execution timed out after 1 seconds"},
			wantStatus: api.ExecutionTimedOut,
			wantKind:   api.FailureSandboxTimeout,
			wantErr:    "timed out",
		},
		{
			name:       "failed without kind",
			result:     api.ExecutionResult{Status: api.ExecutionFailed, Error: "boom"},
			wantStatus: api.ExecutionFailed,
			wantKind:   api.FailureExecutionError,
			wantErr:    "boom",
		},
		{
			name:       "non-terminal status",
			result:     api.ExecutionResult{Status: api.ExecutionRunning},
			wantStatus: api.ExecutionFailed,
			wantKind:   api.FailureExecutionError,
			wantErr:    "no terminal status",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(&fakeBackend{result: tt.result}, Config{})
			res := e.Execute(context.Background(), Request{Code: "x = 1\n"})
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", res.Status, tt.wantStatus)
			}
			if res.Success != (tt.wantStatus == api.ExecutionSucceeded) {
				t.Errorf("Success = %v", res.Success)
			}
			if res.FailureKind != tt.wantKind {
				t.Errorf("FailureKind = %q, want %q", res.FailureKind, tt.wantKind)
			}
			if !strings.Contains(res.Error, tt.wantErr) {
				t.Errorf("Error = %q, want it to contain %q", res.Error, tt.wantErr)
			}
			if res.Payload == nil {
				t.Error("Payload = nil")
			}
		})
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), Config{Backend: "vm"}, nil); err == nil {
		t.Error("New() error = nil, want unknown backend error")
	}
	if _, err := New(context.Background(), Config{Backend: BackendRemote}, nil); err == nil {
		t.Error("New() error = nil, want missing remote URL error")
	}
}

func TestTimeoutSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0.001"},
		{200 * time.Millisecond, "0.2"},
		{time.Second, "1"},
		{1500 * time.Millisecond, "1.5"},
		{1500*time.Millisecond + 400*time.Microsecond, "1.5"},
		{30 * time.Second, "30"},
	}
	for _, tt := range tests {
		if got := formatSeconds(timeoutSeconds(tt.in)); got != tt.want {
			t.Errorf("timeoutSeconds(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRenderRunner(t *testing.T) {
	out, err := renderRunner(runnerParams{
		CodePath:       "/sandbox/analysis.py",
		MemoryBytes:    512 << 20,
		TimeoutSeconds: 30,
		AllowedImports: []string{"json", "math"},
	})
	if err != nil {
		t.Fatalf("renderRunner() error = %v", err)
	}
	for _, want := range []string{
		`_CODE_PATH = "/sandbox/analysis.py"`,
		"_DATA_DIR = None",
		"_MEMORY_BYTES = 536870912",
		"_TIMEOUT = 30",
		`_ALLOWED = frozenset(["json","math"])`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("runner missing %q", want)
		}
	}
}
