// Package sandbox runs analysis programs under time, memory, import and
// filesystem restrictions and captures the JSON payload they print.
//
// Every program is screened statically first; rejected programs never
// start. Accepted programs run on one of three backends chosen once at
// startup: a locked-down container, a fresh interpreter process in its own
// process group, or a remote sandbox server. In all of them the wall-clock
// timeout is enforced from the outside and always terminates the program.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/observability"
)

// Backend names.
const (
	BackendAuto      = "auto"
	BackendContainer = "container"
	BackendProcess   = "process"
	BackendRemote    = "remote"
)

// Request is one execution. Zero fields take the executor's defaults.
type Request struct {
	Code string
	// WorkDir is the dataset directory. It is exposed read-only and is the
	// only place load_graph may read from.
	WorkDir        string
	Timeout        time.Duration
	MemoryLimitMB  int
	AllowedImports []string
}

// Backend runs an already screened request with defaults applied. It
// returns a terminal result and must not leave anything running behind.
type Backend interface {
	Name() string
	Run(ctx context.Context, req Request) api.ExecutionResult
}

// Config holds executor defaults and backend settings.
type Config struct {
	Backend        string
	Python         string
	Image          string
	Docker         string
	CPUs           string
	Timeout        time.Duration
	MemoryLimitMB  int
	AllowedImports []string
	MaxOutputBytes int
	RemoteURL      string
	// DataRoot confines the work_dir a sandbox server accepts from its
	// clients. Only the sandbox server sets it.
	DataRoot string
}

// DefaultConfig returns the built-in sandbox settings.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		Python:         "python3",
		Image:          "python:3.11-slim",
		Docker:         "docker",
		CPUs:           "0.5",
		Timeout:        30 * time.Second,
		MemoryLimitMB:  512,
		AllowedImports: slices.Clone(DefaultAllowedImports),
		MaxOutputBytes: 10 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Python == "" {
		c.Python = def.Python
	}
	if c.Image == "" {
		c.Image = def.Image
	}
	if c.Docker == "" {
		c.Docker = def.Docker
	}
	if c.CPUs == "" {
		c.CPUs = def.CPUs
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = def.MemoryLimitMB
	}
	if len(c.AllowedImports) == 0 {
		c.AllowedImports = def.AllowedImports
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = def.MaxOutputBytes
	}
	return c
}

// Executor screens programs and dispatches them to a backend.
type Executor struct {
	backend Backend
	cfg     Config
}

// NewExecutor creates an executor over an explicit backend.
func NewExecutor(b Backend, cfg Config) *Executor {
	return &Executor{backend: b, cfg: cfg.withDefaults()}
}

// New probes for the configured backend and returns an executor using it.
// With Backend "auto" a working container runtime is preferred, then a
// local interpreter. The remote backend needs an acquirer, or RemoteURL for
// a fixed server.
func New(ctx context.Context, cfg Config, acquirer Acquirer) (*Executor, error) {
	cfg = cfg.withDefaults()

	var b Backend
	switch cfg.Backend {
	case BackendContainer:
		if err := probeContainer(ctx, cfg.Docker); err != nil {
			return nil, fmt.Errorf("container backend unavailable: %w", err)
		}
		b = NewContainerBackend(cfg)
	case BackendProcess:
		if _, err := exec.LookPath(cfg.Python); err != nil {
			return nil, fmt.Errorf("process backend unavailable: %w", err)
		}
		b = NewProcessBackend(cfg)
	case BackendRemote:
		if acquirer == nil {
			if cfg.RemoteURL == "" {
				return nil, errors.New("remote backend requires a sandbox URL or acquirer")
			}
			acquirer = StaticAcquirer(cfg.RemoteURL)
		}
		b = NewRemoteBackend(acquirer, NewClient(cfg.Timeout+30*time.Second))
	case BackendAuto:
		if err := probeContainer(ctx, cfg.Docker); err == nil {
			b = NewContainerBackend(cfg)
		} else if _, lookErr := exec.LookPath(cfg.Python); lookErr == nil {
			slog.Info("container runtime unavailable, using process sandbox", "reason", err)
			b = NewProcessBackend(cfg)
		} else {
			return nil, fmt.Errorf("no sandbox backend available: container: %v; process: %v", err, lookErr)
		}
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}

	slog.Info("sandbox backend selected", "backend", b.Name())
	return NewExecutor(b, cfg), nil
}

// Backend returns the name of the selected backend.
func (e *Executor) Backend() string {
	return e.backend.Name()
}

// Execute screens and runs req. It never returns an error; every outcome,
// including rejection, is a terminal ExecutionResult.
func (e *Executor) Execute(ctx context.Context, req Request) api.ExecutionResult {
	start := time.Now()
	req = e.applyDefaults(req)

	res := api.ExecutionResult{Backend: e.backend.Name()}
	advance(&res, api.ExecutionPending)

	if err := Check(req.Code, req.AllowedImports); err != nil {
		debug.Log("sandbox", "program rejected", "reason", err)
		advance(&res, api.ExecutionFailed)
		res.Error = err.Error()
		res.FailureKind = api.FailureSandboxRejection
		res.Payload = map[string]any{}
		return e.finish(res, start)
	}

	advance(&res, api.ExecutionRunning)
	debug.Log("sandbox", "executing", "backend", res.Backend, "timeout", req.Timeout, "memory_mb", req.MemoryLimitMB)
	out := e.backend.Run(ctx, req)

	res.Payload = out.Payload
	res.Stdout = out.Stdout
	res.Stderr = out.Stderr
	res.Error = out.Error
	res.FailureKind = out.FailureKind
	advance(&res, out.Status)
	res.Success = res.Status == api.ExecutionSucceeded
	if res.Payload == nil {
		res.Payload = map[string]any{}
	}
	if !res.Success && res.FailureKind == "" {
		res.FailureKind = api.FailureExecutionError
	}
	return e.finish(res, start)
}

func (e *Executor) finish(res api.ExecutionResult, start time.Time) api.ExecutionResult {
	elapsed := time.Since(start)
	res.ExecutionTimeMS = elapsed.Milliseconds()
	observability.ObserveSandbox(res.Backend, string(res.Status), elapsed)
	if !res.Success {
		slog.Warn("sandbox execution failed",
			"backend", res.Backend, "status", res.Status, "failure_kind", res.FailureKind, "error", res.Error)
	}
	debug.Raw("sandbox", res.Stdout)
	return res
}

func (e *Executor) applyDefaults(req Request) Request {
	if req.Timeout <= 0 {
		req.Timeout = e.cfg.Timeout
	}
	if req.MemoryLimitMB <= 0 {
		req.MemoryLimitMB = e.cfg.MemoryLimitMB
	}
	if len(req.AllowedImports) == 0 {
		req.AllowedImports = e.cfg.AllowedImports
	}
	return req
}

// advance moves res to status, logging transitions the state machine does
// not allow. A backend returning a non-terminal status is recorded as failed.
func advance(res *api.ExecutionResult, status api.ExecutionStatus) {
	if res.Status == api.ExecutionRunning && !status.IsTerminal() {
		status = api.ExecutionFailed
		res.Error = "sandbox backend returned no terminal status"
	}
	if err := api.ValidateExecutionTransition(res.Status, status); err != nil {
		slog.Error("invalid execution transition", "from", res.Status, "to", status)
	}
	res.Status = status
}

// timeoutSeconds converts d to seconds at millisecond precision, at least
// one millisecond.
func timeoutSeconds(d time.Duration) float64 {
	return float64(max(d, time.Millisecond).Milliseconds()) / 1000
}

// formatSeconds prints s without trailing zeros: 1, 1.5, 0.25.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// stageProgram writes the runner and program into a fresh directory and
// returns its path. The caller removes it.
func stageProgram(req Request, codePath string) (string, error) {
	dir, err := os.MkdirTemp("", "kgquery-sandbox-")
	if err != nil {
		return "", fmt.Errorf("creating sandbox directory: %w", err)
	}
	if codePath == "" {
		codePath = filepath.Join(dir, "analysis.py")
	}
	runner, err := renderRunner(runnerParams{
		CodePath:       codePath,
		DataDir:        req.WorkDir,
		MemoryBytes:    int64(req.MemoryLimitMB) << 20,
		TimeoutSeconds: timeoutSeconds(req.Timeout),
		AllowedImports: req.AllowedImports,
	})
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, "runner.py"), []byte(runner), 0o644)
	}
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, "analysis.py"), []byte(req.Code), 0o644)
	}
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("staging program: %w", err)
	}
	// Container users may not match the host user.
	if err := os.Chmod(dir, 0o755); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("staging program: %w", err)
	}
	return dir, nil
}
