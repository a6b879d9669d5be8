// Command nexus runs the MCP tool router: it connects to the configured
// downstream servers, merges their tools into one registry, and serves the
// process_query / list_available_tools / health_check surface over SSE.
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
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/germanamz/nexus/pkg/brain"
	"github.com/germanamz/nexus/pkg/brain/openai"
	"github.com/germanamz/nexus/pkg/downstream"
	"github.com/germanamz/nexus/pkg/router"
	"github.com/germanamz/nexus/pkg/telemetry"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nexus [flags]\n\nRun the MCP tool router.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	configPath := flag.String("config", "nexus.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "path to .env file (missing file is ignored)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, *envFile, *addr, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, addr string, logger *slog.Logger) error {
	loadDotenv(envFile, logger)

	cfg, err := router.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if addr != "" {
		cfg.Router.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := downstream.NewManager(cfg.Endpoints(), logger)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("closing downstream sessions", "error", err)
		}
	}()

	// Downstream writes to the registry happen only here, before any
	// request traffic is accepted.
	manager.ConnectAll(ctx)

	completer := openai.New(cfg.Brain.BaseURL, cfg.Brain.APIKey, cfg.Brain.Model)
	if cfg.Brain.MaxTokens > 0 {
		completer.MaxTokens = cfg.Brain.MaxTokens
	}
	completer.Temperature = cfg.Brain.Temperature

	metrics := telemetry.New()
	rt := router.New(manager, brain.NewLLM(completer, logger), metrics, logger)
	srv := router.NewServer(rt, cfg.Router.Name, cfg.Router.Version)

	e := newHTTPServer(srv, rt, metrics)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}()

	logger.Info("router listening", "addr", cfg.Router.Addr, "endpoint", "/sse")

	if err := e.Start(cfg.Router.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

// newHTTPServer mounts the MCP SSE handler plus plain health and metrics
// endpoints on one echo instance.
func newHTTPServer(srv *router.Server, rt *router.Router, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	sse := echo.WrapHandler(srv.Handler())
	e.GET("/sse", sse)
	e.POST("/sse", sse)
	e.Any("/sse/*", sse)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, rt.HealthCheck())
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return e
}

func loadDotenv(path string, logger *slog.Logger) {
	err := godotenv.Load(path)
	if err != nil && !os.IsNotExist(err) {
		logger.Warn("loading env file", "path", path, "error", err)
	}
}
