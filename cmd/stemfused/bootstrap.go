package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stemfuse/internal/config"
	"stemfuse/internal/daemon"
	"stemfuse/internal/dispatch"
	"stemfuse/internal/enhancement"
	"stemfuse/internal/extraction"
	"stemfuse/internal/fusion"
	"stemfuse/internal/jobs"
	"stemfuse/internal/notifications"
	"stemfuse/internal/scratch"
	"stemfuse/internal/separation"
	"stemfuse/internal/services/audioproc"
	"stemfuse/internal/storage"
	"stemfuse/internal/workflow"
)

// buildDaemon assembles the full dependency graph: broker, scratch, storage,
// the four stage handlers, the workflow manager, and the janitor.
func buildDaemon(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	queue := dispatch.NewRedis(cfg.Broker, config.StageNames(), cfg.Workflow.MaxDeliveries)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := queue.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	scratchMgr, err := scratch.NewManager(cfg.ScratchRoot)
	if err != nil {
		return nil, fmt.Errorf("scratch manager: %w", err)
	}

	objectStore, err := storage.NewLocal(cfg.ObjectStoreDir)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	retrying := storage.NewRetrying(objectStore, cfg.Storage.RetryAttempts, time.Duration(cfg.Storage.RetryBackoffMS)*time.Millisecond)

	invoker := audioproc.NewClient(cfg.Processing, audioproc.WithLogger(logger))
	notifier := notifications.NewService(cfg)

	manager := workflow.NewManager(cfg, store, queue, scratchMgr, notifier, logger)
	for _, err := range []error{
		manager.Register(separation.New(retrying, invoker, logger)),
		manager.Register(extraction.New(invoker, logger)),
		manager.Register(fusion.New(invoker, logger)),
		manager.Register(enhancement.New(retrying, invoker, logger)),
	} {
		if err != nil {
			return nil, fmt.Errorf("register stage: %w", err)
		}
	}

	retention := time.Duration(cfg.Janitor.RetentionHours) * time.Hour
	janitor := scratch.NewJanitor(scratchMgr, retention, logger)

	return daemon.New(cfg, store, manager, janitor, logger)
}
