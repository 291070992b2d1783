package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/kgquery/pkg/api"
)

// containerCodeDir is where the staged program is mounted in the container.
const containerCodeDir = "/sandbox"

// ContainerBackend runs each program in a throwaway container with no
// network, a read-only root filesystem and memory and CPU caps.
type ContainerBackend struct {
	docker    string
	image     string
	cpus      string
	maxOutput int
}

// NewContainerBackend creates a container backend from cfg.
func NewContainerBackend(cfg Config) *ContainerBackend {
	cfg = cfg.withDefaults()
	return &ContainerBackend{docker: cfg.Docker, image: cfg.Image, cpus: cfg.CPUs, maxOutput: cfg.MaxOutputBytes}
}

func (b *ContainerBackend) Name() string { return BackendContainer }

func (b *ContainerBackend) Run(ctx context.Context, req Request) api.ExecutionResult {
	dir, err := stageProgram(req, containerCodeDir+"/analysis.py")
	if err != nil {
		return failure(api.FailureExecutionError, err.Error())
	}
	defer os.RemoveAll(dir)

	name := "kgquery-" + uuid.NewString()
	cmd := exec.Command(b.docker, b.args(name, dir, req)...)
	setupProcessGroup(cmd)

	o := runCommand(ctx, cmd, req.Timeout, b.maxOutput, func() {
		b.kill(name)
		killProcessGroup(cmd)
	})
	return o.result(req.Timeout)
}

// args builds the docker run command line. The dataset directory is mounted
// read-only at its host path so partition paths resolve unchanged.
func (b *ContainerBackend) args(name, codeDir string, req Request) []string {
	mem := fmt.Sprintf("%dm", req.MemoryLimitMB)
	args := []string{
		"run", "--rm",
		"--name", name,
		"--memory", mem,
		"--memory-swap", mem,
		"--cpus", b.cpus,
		"--pids-limit", "64",
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp",
		"--security-opt", "no-new-privileges",
		"-v", codeDir + ":" + containerCodeDir + ":ro",
	}
	if req.WorkDir != "" {
		if abs, err := filepath.Abs(req.WorkDir); err == nil {
			args = append(args, "-v", abs+":"+abs+":ro")
		}
	}
	return append(args, "-w", "/tmp", b.image, "python3", "-I", containerCodeDir+"/runner.py")
}

// kill stops the container by name. The docker client being killed does not
// stop the container itself.
func (b *ContainerBackend) kill(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, b.docker, "kill", name).CombinedOutput(); err != nil {
		slog.Debug("docker kill failed", "container", name, "error", err, "output", string(out))
	}
}

// probeContainer checks that a container runtime answers.
func probeContainer(ctx context.Context, docker string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := exec.LookPath(docker); err != nil {
		return err
	}
	if out, err := exec.CommandContext(ctx, docker, "version", "--format", "{{.Server.Version}}").CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}
	return nil
}
