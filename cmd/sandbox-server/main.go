// Command sandbox-server runs the sandbox HTTP API inside an isolated pod
// or container. Programs run on the local interpreter with the process
// backend; the pod itself provides the outer isolation.
//
// Configuration comes from pkg/config. The relevant overrides are:
//
//	KGQUERY_PORT                   - listen port (default: 8080)
//	KGQUERY_SANDBOX_PYTHON         - interpreter (default: python3)
//	KGQUERY_SANDBOX_TIMEOUT        - maximum execution timeout (default: 30s)
//	KGQUERY_SANDBOX_MEMORY_MB      - maximum memory limit (default: 512)
//	KGQUERY_SANDBOX_MAX_CONCURRENT - parallel executions before 429 (default: 4)
//	KGQUERY_DATASET_PATH           - the only tree clients may name as work_dir
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhuss/kgquery/pkg/app"
	"github.com/rhuss/kgquery/pkg/config"
	"github.com/rhuss/kgquery/pkg/sandbox"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("sandbox server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	app.InitLogging(cfg.Observability)

	sc := app.SandboxConfig(cfg.Sandbox)
	sc.Backend = sandbox.BackendProcess
	sc.DataRoot = cfg.Dataset.Path

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exec, err := sandbox.New(ctx, sc, nil)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", sandbox.Handler(exec, cfg.Sandbox.MaxConcurrent))
	// Readiness for the pod, distinct from the liveness-style /health.
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Sandbox.Timeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("sandbox server starting",
			"addr", httpSrv.Addr,
			"python", sc.Python,
			"max_concurrent", cfg.Sandbox.MaxConcurrent,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down sandbox server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
