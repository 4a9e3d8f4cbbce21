// Package app wires the pipeline and its collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/deck"
	"github.com/raphaelgruber/insightdeck/internal/embedding"
	"github.com/raphaelgruber/insightdeck/internal/index"
	"github.com/raphaelgruber/insightdeck/internal/insight"
	"github.com/raphaelgruber/insightdeck/internal/llm"
	"github.com/raphaelgruber/insightdeck/internal/metrics"
	"github.com/raphaelgruber/insightdeck/internal/notify"
	"github.com/raphaelgruber/insightdeck/internal/processor"
	"github.com/raphaelgruber/insightdeck/internal/service"
	"github.com/raphaelgruber/insightdeck/internal/state"
	"github.com/raphaelgruber/insightdeck/internal/tracker"
)

// Data directory layout.
const (
	DirRaw           = "raw"
	DirProcessed     = "processed"
	DirInsights      = "insights"
	DirPresentations = "presentations"
)

// App holds everything a process needs to run the pipeline.
type App struct {
	Config     config.Config
	Pipeline   *service.Pipeline
	State      *state.Store
	Index      *index.Index
	Stats      *metrics.Collector
	Prometheus *metrics.PrometheusRecorder
	Events     notify.Publisher
}

// New builds the full dependency graph. The caller must Close the result.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{DirRaw, DirProcessed, DirInsights, DirPresentations} {
		if err := os.MkdirAll(cfg.Dir(dir), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	stats := metrics.NewCollector()
	prom := metrics.NewPrometheusRecorder()
	recorder := metrics.Multi{stats, prom}

	a := &App{Config: cfg, Stats: stats, Prometheus: prom, Events: notify.Nop{}}

	st, err := state.Open(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	a.State = st

	embedder, err := embedding.New(cfg)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	store, err := index.OpenStore(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("open index: %w", err)
	}
	a.Index = index.New(store, embedder, index.DefaultBatchSize, logger)
	a.Index.SetRecorder(recorder)

	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init model: %w", err)
	}
	generator := insight.NewGenerator(a.Index, model, cfg.Dir(DirInsights),
		insight.Options{Budget: cfg.PromptBudget}, logger)
	generator.SetRecorder(recorder)

	var hosted *deck.HostedClient
	if cfg.DeckAPIKey != "" {
		hosted = deck.NewHostedClient(cfg.DeckAPIURL, cfg.DeckAPIKey, nil)
	} else {
		logger.Info("no deck API key configured, hosted decks disabled")
	}

	if cfg.NATSURL != "" {
		events, err := notify.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("run events disabled", "error", err)
		} else {
			a.Events = events
		}
	}

	source := tracker.NewClient(cfg.TrackerURL, cfg.TrackerUser, cfg.TrackerToken, tracker.Options{
		PageSize:   cfg.TrackerPageSize,
		MaxRetries: cfg.TrackerMaxRetries,
	}, logger)

	a.Pipeline = service.New(service.Deps{
		Extractor:    tracker.NewExtractor(source, cfg.Dir(DirRaw), logger),
		Processor:    processor.New(cfg.Dir(DirRaw), cfg.Dir(DirProcessed), logger),
		Indexer:      a.Index,
		Generator:    generator,
		Publisher:    deck.NewPublisher(cfg.Dir(DirPresentations), hosted, st, logger),
		Runs:         st,
		ProcessedDir: cfg.Dir(DirProcessed),
		InsightDir:   cfg.Dir(DirInsights),
		Metrics:      recorder,
		Events:       a.Events,
	}, logger)

	if _, err := a.Pipeline.Recover(ctx); err != nil {
		logger.Warn("stale run recovery failed", "error", err)
	}
	return a, nil
}

// Close stops in-flight runs and releases every connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pipeline != nil {
		if err := a.Pipeline.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown pipeline: %w", err))
		}
	}
	if a.Events != nil {
		a.Events.Close()
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if a.State != nil {
		if err := a.State.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state: %w", err))
		}
	}
	return errors.Join(errs...)
}
