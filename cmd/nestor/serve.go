package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nestor-home/nestor/pkg/embedder"
	"github.com/nestor-home/nestor/pkg/engine"
	"github.com/nestor-home/nestor/pkg/gateway"
	"github.com/nestor-home/nestor/pkg/index"
	"github.com/nestor-home/nestor/pkg/llms"
	"github.com/nestor-home/nestor/pkg/observability"
	"github.com/nestor-home/nestor/pkg/planner"
	"github.com/nestor-home/nestor/pkg/server"
	"github.com/nestor-home/nestor/pkg/session"
	"github.com/nestor-home/nestor/pkg/tools"
	"github.com/nestor-home/nestor/pkg/vector"
)

// ServeCmd starts the assistant HTTP server.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cleanup, err := initLogging(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{
			Enabled:     cfg.Server.TracingEnabled,
			EndpointURL: cfg.Server.TracingEndpoint,
			ServiceName: "nestor",
		},
		Metrics: observability.MetricsConfig{Enabled: cfg.Server.MetricsEnabled},
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("observability shutdown failed", "error", err)
		}
	}()

	provider, err := llms.NewProviderFromConfig(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	defer provider.Close()

	gw := gateway.New(provider, &cfg.LLM)
	gw.Instrument(obs.Metrics())

	emb, err := embedder.NewOllamaClientFromConfig(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	defer emb.Close()

	store, err := vector.NewSQLiteStore(cfg.Store.Path, cfg.Embedder.Dimension)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()

	idx := index.NewService(cfg.Repository.Path, emb, store)
	eng := engine.NewClientFromConfig(&cfg.Engine)

	catalog, err := tools.NewCatalog(eng, idx, cfg.Planner.SimilarCodeTopK)
	if err != nil {
		return fmt.Errorf("failed to build tool catalog: %w", err)
	}

	facade := session.NewFacade(planner.Deps{
		Gateway: gw,
		Engine:  eng,
		Index:   idx,
		Tools:   catalog,
		LLM:     &cfg.LLM,
		Planner: &cfg.Planner,
		Metrics: obs.Metrics(),
	}, idx)

	// Index work must not delay serving: the embedding model may still be
	// warming up and search degrades to empty results meanwhile.
	go func() {
		if err := idx.Sync(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("initial index sync failed", "error", err)
		}
	}()
	if cfg.Repository.Watch {
		watcher := index.NewWatcher(idx, cfg.Repository.Path,
			time.Duration(cfg.Repository.DebounceMillis)*time.Millisecond)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("repository watcher stopped", "error", err)
			}
		}()
	}

	srv := server.New(&cfg.Server, facade, &healthChecker{engine: eng, index: idx}, idx, obs)
	return srv.Run(ctx)
}

// SyncCmd rebuilds the code index once and exits.
type SyncCmd struct{}

func (c *SyncCmd) Run(cli *CLI) error {
	cleanup, err := initLogging(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emb, err := embedder.NewOllamaClientFromConfig(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	defer emb.Close()

	store, err := vector.NewSQLiteStore(cfg.Store.Path, cfg.Embedder.Dimension)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()

	idx := index.NewService(cfg.Repository.Path, emb, store)
	if err := idx.Sync(ctx); err != nil {
		return fmt.Errorf("index sync failed: %w", err)
	}
	fmt.Println("index synced")
	return nil
}

type healthChecker struct {
	engine *engine.Client
	index  *index.Service
}

func (h *healthChecker) EngineHealthy(ctx context.Context) bool {
	return h.engine.Healthy(ctx)
}

func (h *healthChecker) IndexReady() bool {
	return h.index.Ready()
}
