// Command server runs the kgquery HTTP service.
//
// Configuration is read from a YAML file and KGQUERY_* environment
// variables, see pkg/config. Common overrides:
//
//	KGQUERY_CONFIG           - config file path
//	KGQUERY_DATASET_PATH     - directory holding the YYYYMM.json partitions
//	KGQUERY_BACKEND_PROVIDER - "openaicompat", "litellm" or "none"
//	KGQUERY_BACKEND_URL      - generation backend URL
//	KGQUERY_SANDBOX_BACKEND  - "auto", "container", "process" or "remote"
//	KGQUERY_PORT             - listen port (default: 8080)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/rhuss/kgquery/pkg/app"
	"github.com/rhuss/kgquery/pkg/config"
	transporthttp "github.com/rhuss/kgquery/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	app.InitLogging(cfg.Observability)

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithDatasetPath(cfg.Dataset.Path),
		transporthttp.WithMetrics(cfg.Observability.Metrics.Enabled),
		transporthttp.WithMetricsPath(cfg.Observability.Metrics.Path),
	}

	bypass := []string{"/healthz", "/readyz", cfg.Observability.Metrics.Path}
	authMW, err := app.AuthMiddleware(cfg.Auth, bypass)
	if err != nil {
		return err
	}
	if authMW != nil {
		opts = append(opts, transporthttp.WithHTTPMiddleware(authMW))
	}

	srv := transporthttp.NewServer(a.Engine, a.Store, opts...)
	slog.Info("kgquery listening",
		"port", cfg.Server.Port,
		"dataset", cfg.Dataset.Path,
		"auth", cfg.Auth.Type,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
