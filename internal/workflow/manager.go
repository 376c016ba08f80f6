package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stemfuse/internal/config"
	"stemfuse/internal/dispatch"
	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/notifications"
	"stemfuse/internal/scratch"
	"stemfuse/internal/stage"
)

// Manager owns the pipeline: it enqueues jobs, runs the per-stage worker
// pools, sequences the chain through the tracker, and reclaims stale
// deliveries. One Manager instance runs per daemon process.
type Manager struct {
	cfg      *config.Config
	store    *jobs.Store
	queue    dispatch.Queue
	scratch  *scratch.Manager
	notifier notifications.Service
	logger   *slog.Logger

	workers []*stageWorker

	claimWait       time.Duration
	errorRetry      time.Duration
	heartbeatEvery  time.Duration
	reclaimEvery    time.Duration
	claimStaleAfter time.Duration

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager. Stage handlers are registered
// separately before Start.
func NewManager(cfg *config.Config, store *jobs.Store, queue dispatch.Queue, scratchMgr *scratch.Manager, notifier notifications.Service, logger *slog.Logger) *Manager {
	claimWait := time.Duration(cfg.Workflow.ClaimWaitSeconds) * time.Second
	if claimWait <= 0 {
		claimWait = 5 * time.Second
	}
	errorRetry := time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second
	if errorRetry <= 0 {
		errorRetry = 5 * time.Second
	}
	heartbeat := time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	reclaim := time.Duration(cfg.Workflow.ReclaimIntervalSeconds) * time.Second
	if reclaim <= 0 {
		reclaim = 60 * time.Second
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Manager{
		cfg:             cfg,
		store:           store,
		queue:           queue,
		scratch:         scratchMgr,
		notifier:        notifier,
		logger:          logging.NewComponentLogger(logger, "workflow"),
		claimWait:       claimWait,
		errorRetry:      errorRetry,
		heartbeatEvery:  heartbeat,
		reclaimEvery:    reclaim,
		claimStaleAfter: 3 * heartbeat,
	}
}

// Register wires a stage handler into the manager's worker pool using the
// stage's configured limits. Registration order fixes worker naming only; the
// chain order comes from each job's stage sequence.
func (m *Manager) Register(handler stage.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("cannot register %s while running", handler.Name())
	}
	limits, ok := m.cfg.StageLimitsFor(handler.Name())
	if !ok {
		return fmt.Errorf("no stage limits configured for %s", handler.Name())
	}
	count := limits.Workers
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s-%d", handler.Name(), i+1)
		m.workers = append(m.workers, &stageWorker{
			name:    name,
			stage:   handler.Name(),
			limits:  limits,
			handler: handler,
			logger:  m.logger.With(logging.String("worker", name)),
		})
	}
	return nil
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// LastError returns the most recent background failure, for health reporting.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}
