// Package main provides the HTTP server that schedules and serves pipeline runs.
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
	"time"

	"github.com/raphaelgruber/insightdeck/internal/app"
	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/scheduler"
	"github.com/raphaelgruber/insightdeck/internal/server"
)

const version = "0.1.0"

func main() {
	runOnStart := flag.Bool("run-on-start", true, "start a run immediately instead of waiting for the first interval")
	noSchedule := flag.Bool("no-schedule", false, "only run when triggered through the API")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting insightdeck-server",
		"version", version,
		"port", cfg.ServerPort,
		"project", cfg.ProjectKey,
		"index_mode", cfg.IndexMode,
		"llm_provider", cfg.LLMProvider,
		"interval", cfg.UpdateInterval,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Error("failed to close", "error", err)
		}
	}()

	srv := server.New(server.Deps{
		Pipeline:        a.Pipeline,
		Catalog:         a.State,
		Index:           a.Index,
		Stats:           a.Stats,
		Metrics:         a.Prometheus.Handler(),
		ProjectKey:      cfg.ProjectKey,
		APIKey:          cfg.APIKey,
		PresentationDir: cfg.Dir(app.DirPresentations),
	}, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	if !*noSchedule {
		sched := scheduler.New(scheduler.Every(cfg.UpdateInterval), a.Pipeline, cfg.ProjectKey, logger)
		sched.RunOnStart = *runOnStart
		go sched.Run(runCtx)
	}

	go func() {
		logger.Info("API available", "url", "http://localhost:"+cfg.ServerPort+"/api/status")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopRuns()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
