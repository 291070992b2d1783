package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
)

// ErrCapacity is returned when a sandbox server refuses work with 429.
var ErrCapacity = errors.New("sandbox at capacity (HTTP 429)")

// Acquirer hands out sandbox server URLs. Release must be called once the
// execution is done.
type Acquirer interface {
	Acquire(ctx context.Context) (sandboxURL string, release func(), err error)
}

// StaticAcquirer always returns the same server.
type StaticAcquirer string

func (a StaticAcquirer) Acquire(context.Context) (string, func(), error) {
	return string(a), func() {}, nil
}

// RemoteRequest is the body of POST /execute on a sandbox server.
type RemoteRequest struct {
	Code           string   `json:"code"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
	MemoryLimitMB  int      `json:"memory_limit_mb,omitempty"`
	WorkDir        string   `json:"work_dir,omitempty"`
	AllowedImports []string `json:"allowed_imports,omitempty"`
}

// Client calls the sandbox server REST API.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a sandbox client with an overall HTTP timeout. The
// execution timeout itself is enforced by the server.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Execute sends one execution to the server at sandboxURL.
func (c *Client) Execute(ctx context.Context, sandboxURL string, req *RemoteRequest) (*api.ExecutionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sandboxURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrCapacity
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result api.ExecutionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// RemoteBackend forwards executions to sandbox servers.
type RemoteBackend struct {
	acquirer Acquirer
	client   *Client
}

// NewRemoteBackend creates a remote backend.
func NewRemoteBackend(acquirer Acquirer, client *Client) *RemoteBackend {
	return &RemoteBackend{acquirer: acquirer, client: client}
}

func (b *RemoteBackend) Name() string { return BackendRemote }

func (b *RemoteBackend) Run(ctx context.Context, req Request) api.ExecutionResult {
	sandboxURL, release, err := b.acquirer.Acquire(ctx)
	if err != nil {
		return failure(api.FailureExecutionError, fmt.Sprintf("failed to acquire sandbox: %v", err))
	}
	defer release()

	res, err := b.client.Execute(ctx, sandboxURL, &RemoteRequest{
		Code:           req.Code,
		TimeoutSeconds: timeoutSeconds(req.Timeout),
		MemoryLimitMB:  req.MemoryLimitMB,
		WorkDir:        req.WorkDir,
		AllowedImports: req.AllowedImports,
	})
	if err != nil {
		return failure(api.FailureExecutionError, fmt.Sprintf("sandbox execution failed: %v", err))
	}
	return *res
}
