// Command mcp-server exposes the query engine as MCP tools, over streamable
// HTTP on /mcp or over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/kgquery/pkg/app"
	"github.com/rhuss/kgquery/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	stdio := flag.Bool("stdio", false, "serve over stdin/stdout instead of HTTP")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	app.InitLogging(cfg.Observability)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	server := newServer(a)

	if *stdio {
		if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mcp server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: cfg.MCP.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("mcp server starting", "addr", cfg.MCP.Addr, "dataset", cfg.Dataset.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("mcp server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("mcp server stopped")
}

// version is reported in the MCP implementation info.
var version = "dev"
