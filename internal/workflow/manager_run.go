package workflow

import (
	"context"
	"errors"
	"time"

	"stemfuse/internal/config"
	"stemfuse/internal/logging"
	"stemfuse/internal/metrics"
)

// Start launches the stage worker pools and the reclaim sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.workers) == 0 {
		m.mu.Unlock()
		return errors.New("no stage handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(len(m.workers) + 1)
	m.mu.Unlock()

	for _, worker := range m.workers {
		go m.runWorker(runCtx, worker)
	}
	go m.runReclaimer(runCtx)

	m.logger.Info("workflow started", logging.Args(logging.Int("workers", len(m.workers)))...)
	return nil
}

// Stop terminates background processing and waits for in-flight stages to
// wind down.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) runWorker(ctx context.Context, w *stageWorker) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := m.queue.Claim(ctx, w.stage, w.name, m.claimWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			w.logger.Error("claim failed",
				logging.Args(
					logging.Error(err),
					logging.String(logging.FieldEventType, "claim_failed"),
					logging.String(logging.FieldErrorHint, "check broker connectivity"),
				)...)
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.errorRetry):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		if err := m.processDelivery(ctx, w, delivery); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
		}
	}
}

// runReclaimer periodically requeues deliveries whose heartbeats went stale
// and fails jobs whose tasks exhausted the delivery budget.
func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.reclaimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, stageName := range config.StageNames() {
			reclaimed, err := m.queue.ReclaimStale(ctx, stageName, m.claimStaleAfter)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.logger.Warn("reclaim sweep failed; stuck deliveries may remain",
					logging.Args(
						logging.Error(err),
						logging.String(logging.FieldStage, stageName),
						logging.String(logging.FieldEventType, "reclaim_failed"),
					)...)
				continue
			}
			for _, task := range reclaimed.Requeued {
				metrics.TasksRedeliveredTotal.WithLabelValues(task.Stage).Inc()
				m.logger.Info("stale delivery requeued",
					logging.Args(
						logging.String(logging.FieldJobID, task.JobID),
						logging.String(logging.FieldStage, task.Stage),
					)...)
			}
			for _, task := range reclaimed.DeadLettered {
				metrics.TasksDeadLetteredTotal.WithLabelValues(task.Stage).Inc()
				m.failExhausted(ctx, task.JobID, task.Stage)
			}
		}

		if depths, err := m.queue.Depths(ctx); err == nil {
			for stageName, depth := range depths {
				metrics.QueueDepth.WithLabelValues(stageName).Set(float64(depth))
			}
		}
	}
}
