package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/opensource-health/heron/internal/api"
	"github.com/opensource-health/heron/internal/bus"
	"github.com/opensource-health/heron/internal/cache"
	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/narrative"
	"github.com/opensource-health/heron/internal/repository"
	"github.com/opensource-health/heron/internal/worker"
)

var serveCmd = &cli.Command{
	Name:   "serve",
	Usage:  "Train the models and serve the HTTP API",
	Action: runServe,
}

func runServe(ctx context.Context, _ *cli.Command) error {
	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"profile", cfg.Profile,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"narrative", cfg.Narrative.Enabled,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	assessor, err := buildAssessor(cfg)
	if err != nil {
		return err
	}

	var repo domain.Repository
	if cfg.Repository.Driver != "none" {
		repo, err = repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("initialize repository: %w", err)
		}
		defer repo.Close()
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	assessor.WithCache(cacheImpl, cfg.Cache.ReportTTL)
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	narrator, err := narrative.New(cfg.Narrative)
	if err != nil {
		return fmt.Errorf("initialize narrative client: %w", err)
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, assessor, narrator)
		if err := asyncWorker.Start(worker.Config{
			WorkerCount:      cfg.Worker.Count,
			NarrativeTimeout: cfg.Narrative.Timeout,
		}); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Assessor:         assessor,
		Repo:             repo,
		Cache:            cacheImpl,
		Bus:              busImpl,
		Narrator:         narrator,
		NarrativeTimeout: cfg.Narrative.Timeout,
		Version:          Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"diseases", len(assessor.Registry().Diseases()),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
	return nil
}
