package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
)

// blockingBackend holds every run until release is closed.
type blockingBackend struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Name() string { return "blocking" }

func (b *blockingBackend) Run(_ context.Context, _ Request) api.ExecutionResult {
	b.started <- struct{}{}
	<-b.release
	return api.ExecutionResult{Status: api.ExecutionSucceeded, Payload: map[string]any{}}
}

func TestRemoteRoundTrip(t *testing.T) {
	fb := &fakeBackend{result: api.ExecutionResult{
		Status:  api.ExecutionSucceeded,
		Payload: map[string]any{"summary": map[string]any{"total_records": 2}},
	}}
	root := t.TempDir()
	srv := httptest.NewServer(Handler(NewExecutor(fb, Config{DataRoot: root}), 2))
	defer srv.Close()

	remote := NewExecutor(NewRemoteBackend(StaticAcquirer(srv.URL), NewClient(5*time.Second)), Config{})
	res := remote.Execute(context.Background(), Request{Code: "import json\n", WorkDir: root, Timeout: 1500 * time.Millisecond})

	if !res.Success {
		t.Fatalf("Execute() = %+v, want success", res)
	}
	if res.Backend != BackendRemote {
		t.Errorf("Backend = %q, want %q", res.Backend, BackendRemote)
	}
	summary, _ := res.Payload["summary"].(map[string]any)
	if summary["total_records"] != float64(2) {
		t.Errorf("Payload = %v", res.Payload)
	}
	if last := fb.lastRequest(); last.WorkDir != root || last.Timeout != 1500*time.Millisecond {
		t.Errorf("server request = %+v", last)
	}
}

func TestRemoteRejectionHappensLocally(t *testing.T) {
	fb := &fakeBackend{}
	srv := httptest.NewServer(Handler(NewExecutor(fb, Config{}), 1))
	defer srv.Close()

	remote := NewExecutor(NewRemoteBackend(StaticAcquirer(srv.URL), NewClient(5*time.Second)), Config{})
	res := remote.Execute(context.Background(), Request{Code: "import socket\n"})
	if res.FailureKind != api.FailureSandboxRejection {
		t.Errorf("FailureKind = %q, want rejection", res.FailureKind)
	}
	if fb.calls.Load() != 0 {
		t.Error("server ran a rejected program")
	}
}

func TestHandlerBadRequests(t *testing.T) {
	h := Handler(NewExecutor(&fakeBackend{}, Config{}), 1)
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{"},
		{"missing code", `{"timeout_seconds": 5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandlerConfinesRequests(t *testing.T) {
	root := t.TempDir()
	cfg := Config{
		Timeout:        10 * time.Second,
		MemoryLimitMB:  256,
		AllowedImports: []string{"json", "math"},
		DataRoot:       root,
	}
	escape := "import importlib\nprint(importlib.import_module('o' + 's').popen('id').read())\n"

	tests := []struct {
		name       string
		req        RemoteRequest
		wantStatus int
		wantKind   api.FailureKind
		want       *Request // nil when the backend must not run
	}{
		{
			name:       "client limits within bounds",
			req:        RemoteRequest{Code: "x = 1\n", TimeoutSeconds: 1.5, MemoryLimitMB: 64, WorkDir: root, AllowedImports: []string{"json"}},
			wantStatus: http.StatusOK,
			want:       &Request{Timeout: 1500 * time.Millisecond, MemoryLimitMB: 64, WorkDir: root, AllowedImports: []string{"json"}},
		},
		{
			name:       "limits above the server's are capped",
			req:        RemoteRequest{Code: "x = 1\n", TimeoutSeconds: 1e6, MemoryLimitMB: 1 << 20},
			wantStatus: http.StatusOK,
			want:       &Request{Timeout: 10 * time.Second, MemoryLimitMB: 256, WorkDir: root, AllowedImports: []string{"json", "math"}},
		},
		{
			name:       "wider allowlist is narrowed",
			req:        RemoteRequest{Code: "x = 1\n", AllowedImports: []string{"json", "importlib", "os"}},
			wantStatus: http.StatusOK,
			want:       &Request{Timeout: 10 * time.Second, MemoryLimitMB: 256, WorkDir: root, AllowedImports: []string{"json"}},
		},
		{
			name:       "narrowed allowlist rejects the program",
			req:        RemoteRequest{Code: escape, AllowedImports: []string{"json", "importlib"}},
			wantStatus: http.StatusOK,
			wantKind:   api.FailureSandboxRejection,
		},
		{
			name:       "only foreign imports",
			req:        RemoteRequest{Code: escape, AllowedImports: []string{"importlib"}, WorkDir: "/"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "work_dir at filesystem root",
			req:        RemoteRequest{Code: "x = 1\n", WorkDir: "/"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "work_dir escapes through parent",
			req:        RemoteRequest{Code: "x = 1\n", WorkDir: filepath.Join(root, "..", "elsewhere")},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "work_dir below the root",
			req:        RemoteRequest{Code: "x = 1\n", WorkDir: filepath.Join(root, "2022")},
			wantStatus: http.StatusOK,
			want:       &Request{Timeout: 10 * time.Second, MemoryLimitMB: 256, WorkDir: filepath.Join(root, "2022"), AllowedImports: []string{"json", "math"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{result: api.ExecutionResult{Status: api.ExecutionSucceeded, Payload: map[string]any{}}}
			h := Handler(NewExecutor(fb, cfg), 1)

			body, err := json.Marshal(tt.req)
			if err != nil {
				t.Fatal(err)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body)))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}

			if tt.want == nil {
				if fb.calls.Load() != 0 {
					t.Errorf("backend ran %d times, want 0", fb.calls.Load())
				}
				if tt.wantKind != "" {
					var res api.ExecutionResult
					if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
						t.Fatalf("decode: %v", err)
					}
					if res.FailureKind != tt.wantKind {
						t.Errorf("FailureKind = %q, want %q", res.FailureKind, tt.wantKind)
					}
				}
				return
			}

			got := fb.lastRequest()
			if got.Timeout != tt.want.Timeout {
				t.Errorf("Timeout = %s, want %s", got.Timeout, tt.want.Timeout)
			}
			if got.MemoryLimitMB != tt.want.MemoryLimitMB {
				t.Errorf("MemoryLimitMB = %d, want %d", got.MemoryLimitMB, tt.want.MemoryLimitMB)
			}
			if got.WorkDir != tt.want.WorkDir {
				t.Errorf("WorkDir = %q, want %q", got.WorkDir, tt.want.WorkDir)
			}
			if !slices.Equal(got.AllowedImports, tt.want.AllowedImports) {
				t.Errorf("AllowedImports = %v, want %v", got.AllowedImports, tt.want.AllowedImports)
			}
		})
	}
}

func TestHandlerWithoutDataRoot(t *testing.T) {
	fb := &fakeBackend{}
	h := Handler(NewExecutor(fb, Config{}), 1)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"code": "x = 1\n", "work_dir": "/etc"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if fb.calls.Load() != 0 {
		t.Error("backend ran with an unconfined work_dir")
	}
}

func TestHandlerHealth(t *testing.T) {
	h := Handler(NewExecutor(&fakeBackend{}, Config{}), 1)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["backend"] != "fake" {
		t.Errorf("body = %v", body)
	}
}

func TestHandlerCapacity(t *testing.T) {
	bb := &blockingBackend{started: make(chan struct{}, 1), release: make(chan struct{})}
	srv := httptest.NewServer(Handler(NewExecutor(bb, Config{}), 1))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	done := make(chan error, 1)
	go func() {
		_, err := client.Execute(context.Background(), srv.URL, &RemoteRequest{Code: "x = 1\n", TimeoutSeconds: 5})
		done <- err
	}()
	<-bb.started

	_, err := client.Execute(context.Background(), srv.URL, &RemoteRequest{Code: "x = 1\n", TimeoutSeconds: 5})
	if !errors.Is(err, ErrCapacity) {
		t.Errorf("second Execute() error = %v, want ErrCapacity", err)
	}

	close(bb.release)
	if err := <-done; err != nil {
		t.Errorf("first Execute() error = %v", err)
	}
}

func TestRemoteAcquireFailure(t *testing.T) {
	b := NewRemoteBackend(failingAcquirer{}, NewClient(time.Second))
	res := b.Run(context.Background(), Request{Code: "x = 1\n"})
	if res.Status != api.ExecutionFailed || !strings.Contains(res.Error, "failed to acquire sandbox") {
		t.Errorf("Run() = %+v", res)
	}
}

type failingAcquirer struct{}

func (failingAcquirer) Acquire(context.Context) (string, func(), error) {
	return "", nil, errors.New("no pods")
}
