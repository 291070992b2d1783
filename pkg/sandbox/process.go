package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
)

// Exit codes the runner uses for limits it detects itself.
const (
	exitTimeout = 124
	exitMemory  = 125
	exitOOMKill = 137 // container runtimes report SIGKILL this way
)

// killGrace lets the in-process alarm report a timeout before the
// executor kills the program from outside.
const killGrace = 500 * time.Millisecond

// ProcessBackend runs each program in a fresh interpreter in its own
// process group.
type ProcessBackend struct {
	python    string
	maxOutput int
}

// NewProcessBackend creates a process backend from cfg.
func NewProcessBackend(cfg Config) *ProcessBackend {
	cfg = cfg.withDefaults()
	return &ProcessBackend{python: cfg.Python, maxOutput: cfg.MaxOutputBytes}
}

func (b *ProcessBackend) Name() string { return BackendProcess }

func (b *ProcessBackend) Run(ctx context.Context, req Request) api.ExecutionResult {
	dir, err := stageProgram(req, "")
	if err != nil {
		return failure(api.FailureExecutionError, err.Error())
	}
	defer os.RemoveAll(dir)

	cmd := exec.Command(b.python, "-I", filepath.Join(dir, "runner.py"))
	cmd.Dir = dir
	cmd.Env = []string{
		"HOME=" + dir,
		"LANG=C.UTF-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
		"OPENBLAS_NUM_THREADS=1",
	}
	setupProcessGroup(cmd)

	o := runCommand(ctx, cmd, req.Timeout, b.maxOutput, func() { killProcessGroup(cmd) })
	return o.result(req.Timeout)
}

// outcome is what a finished or killed command left behind.
type outcome struct {
	stdout   string
	stderr   string
	exitCode int
	signal   string
	timedOut bool
	canceled error
	startErr error
}

// runCommand starts cmd and waits for it, the timeout or ctx, whichever
// comes first. On timeout or cancellation kill is called and the command
// is reaped before returning.
func runCommand(ctx context.Context, cmd *exec.Cmd, timeout time.Duration, maxOutput int, kill func()) outcome {
	stdout := newCappedBuffer(maxOutput)
	stderr := newCappedBuffer(maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return outcome{startErr: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout + killGrace)
	defer timer.Stop()

	var o outcome
	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		kill()
		waitErr = <-done
		o.timedOut = true
	case <-ctx.Done():
		kill()
		waitErr = <-done
		o.canceled = ctx.Err()
	}

	o.stdout = stdout.String()
	o.stderr = stderr.String()
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		o.exitCode = exitErr.ExitCode()
		o.signal = exitSignal(exitErr)
	} else if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		o.exitCode = -1
	}
	return o
}

// result maps an outcome to a terminal execution result.
func (o outcome) result(timeout time.Duration) api.ExecutionResult {
	timedOutMsg := fmt.Sprintf("Code execution timed out after %s seconds", formatSeconds(timeoutSeconds(timeout)))

	var res api.ExecutionResult
	switch {
	case o.startErr != nil:
		return failure(api.FailureExecutionError, fmt.Sprintf("starting sandbox: %v", o.startErr))
	case o.timedOut, o.exitCode == exitTimeout:
		res = failure(api.FailureSandboxTimeout, timedOutMsg)
		res.Status = api.ExecutionTimedOut
	case o.canceled != nil:
		res = failure(api.FailureExecutionError, fmt.Sprintf("execution cancelled: %v", o.canceled))
	case o.exitCode == exitMemory:
		res = failure(api.FailureResourceExceeded, "memory limit exceeded")
	case o.exitCode == exitOOMKill || o.signal == "killed":
		res = failure(api.FailureResourceExceeded, "killed, memory limit exceeded")
	case o.signal == "CPU time limit exceeded":
		res = failure(api.FailureResourceExceeded, "cpu time limit exceeded")
	case o.signal != "":
		res = failure(api.FailureExecutionError, "terminated by signal: "+o.signal)
	case o.exitCode != 0:
		msg := fmt.Sprintf("Script failed with return code %d", o.exitCode)
		if last := lastLine(o.stderr); last != "" {
			msg += ": " + last
		}
		res = failure(api.FailureExecutionError, msg)
	default:
		res = api.ExecutionResult{
			Success: true,
			Status:  api.ExecutionSucceeded,
			Payload: ParsePayload(o.stdout),
		}
	}
	res.Stdout = o.stdout
	res.Stderr = o.stderr
	return res
}

func failure(kind api.FailureKind, msg string) api.ExecutionResult {
	return api.ExecutionResult{
		Status:      api.ExecutionFailed,
		Error:       msg,
		FailureKind: kind,
		Payload:     map[string]any{},
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
