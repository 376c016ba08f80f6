package scratch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"stemfuse/internal/logging"
	"stemfuse/internal/metrics"
)

// Janitor reclaims scratch directories that outlived their retention window,
// independent of whether the owning job's terminal cleanup ever ran.
type Janitor struct {
	manager   *Manager
	retention time.Duration
	logger    *slog.Logger
}

// NewJanitor constructs a janitor over the given manager.
func NewJanitor(manager *Manager, retention time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		manager:   manager,
		retention: retention,
		logger:    logging.NewComponentLogger(logger, "janitor"),
	}
}

// Sweep removes every scratch directory older than the retention threshold
// and returns how many it reclaimed. Directories vanishing between listing
// and removal were cleaned by the normal terminal path and are not errors.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := j.manager.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-j.retention)
	reclaimed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return reclaimed, ctx.Err()
		}
		if !entry.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(entry.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			j.logger.Warn("scratch reclaim failed; directory remains",
				logging.String("path", entry.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "scratch_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check scratch_root permissions"),
			)
			continue
		}
		reclaimed++
		j.logger.Info("scratch directory reclaimed",
			logging.String("path", entry.Path),
			logging.String(logging.FieldEventType, "scratch_reclaimed"),
		)
	}
	if reclaimed > 0 {
		metrics.ScratchSweptTotal.Add(float64(reclaimed))
	}
	return reclaimed, nil
}

// Run sweeps on the given interval until the context is canceled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				j.logger.Error("scratch sweep failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "scratch_sweep_failed"),
				)
			}
		}
	}
}
