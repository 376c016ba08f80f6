package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stemfuse/internal/config"
	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/preflight"
	"stemfuse/internal/scratch"
	"stemfuse/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	workflow *workflow.Manager
	janitor  *scratch.Janitor

	lockPath string
	lock     *flock.Flock

	metricsServer *http.Server

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, wf *workflow.Manager, janitor *scratch.Janitor, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.DataDir, "stemfused.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		janitor:  janitor,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the workflow, the janitor
// sweep, and the metrics endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stemfuse daemon instance is already running")
	}

	for _, result := range preflight.RunAll(ctx, d.cfg, nil) {
		if !result.Passed {
			d.logger.Warn("preflight check failed",
				logging.Args(
					logging.String("check", result.Name),
					logging.String("detail", result.Detail),
				)...)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.cancel = cancel

	if d.janitor != nil {
		interval := time.Duration(d.cfg.Janitor.SweepIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = time.Hour
		}
		go d.janitor.Run(runCtx, interval)
	}

	d.startMetrics()

	d.running.Store(true)
	d.logger.Info("stemfuse daemon started", logging.Args(logging.String("lock", d.lockPath))...)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.metricsServer.Shutdown(shutdownCtx)
		cancel()
		d.metricsServer = nil
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Args(logging.Error(err))...)
	}
	d.running.Store(false)
	d.logger.Info("stemfuse daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

func (d *Daemon) startMetrics() {
	bind := d.cfg.MetricsBind
	if bind == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.workflow.LastError(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	d.metricsServer = &http.Server{Addr: bind, Handler: mux}
	go func() {
		if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Warn("metrics server exited", logging.Args(logging.Error(err))...)
		}
	}()
}
