// Command nexus-search runs a standalone downstream MCP server exposing the
// web_search tool over SSE. It exists so the router has a real tool server
// to discover and dispatch to.
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

	"github.com/joho/godotenv"

	"github.com/germanamz/nexus/pkg/downstream"
	"github.com/germanamz/nexus/pkg/tools/mcpserver"
	"github.com/germanamz/nexus/pkg/tools/toolbox"
	"github.com/germanamz/nexus/pkg/tools/websearch"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nexus-search [flags]\n\nRun the web search downstream server.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	addr := flag.String("addr", ":8000", "listen address")
	envFile := flag.String("env-file", ".env", "path to .env file (missing file is ignored)")
	stdio := flag.Bool("stdio", false, "serve over stdio instead of SSE")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Warn("loading env file", "path", *envFile, "error", err)
	}

	if err := run(*addr, *stdio, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string, stdio bool, logger *slog.Logger) error {
	tb := toolbox.New()
	tb.Register(websearch.Tool(websearch.Config{
		APIKey: os.Getenv("TAVILY_API_KEY"),
	}))

	srv := mcpserver.New("nexus-search", downstream.Version)
	srv.Register(tb.Tools()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if stdio {
		return srv.Serve(ctx, os.Stdin, os.Stdout)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("search server listening", "addr", addr)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}
