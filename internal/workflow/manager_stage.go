package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stemfuse/internal/dispatch"
	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/metrics"
	"stemfuse/internal/scratch"
	"stemfuse/internal/services"
	"stemfuse/internal/stage"
)

// processDelivery resolves one claimed task against the tracker and either
// executes the stage or disposes of the delivery. Redeliveries of already
// completed stages are acked after resubmitting the job's current stage, so a
// crash between advance and submit cannot stall the chain.
func (m *Manager) processDelivery(ctx context.Context, w *stageWorker, d *dispatch.Delivery) error {
	logger := w.logger.With(logging.String(logging.FieldJobID, d.Task.JobID))

	job, err := m.store.GetByID(ctx, d.Task.JobID)
	if err != nil {
		if retryErr := m.queue.Retry(ctx, d); retryErr != nil && !errors.Is(retryErr, dispatch.ErrDeliveriesExhausted) {
			logger.Error("requeue after tracker read failure", logging.Args(logging.Error(retryErr))...)
		}
		return err
	}
	if job == nil {
		logger.Warn("task references unknown job; dropping",
			logging.Args(logging.String(logging.FieldEventType, "orphan_task"))...)
		return m.queue.Ack(ctx, d)
	}
	if job.IsTerminal() {
		return m.queue.Ack(ctx, d)
	}

	taskIdx := job.StageIndex(d.Task.Stage)
	if taskIdx < 0 {
		logger.Warn("task stage not in job sequence; dropping",
			logging.Args(logging.String(logging.FieldStage, d.Task.Stage))...)
		return m.queue.Ack(ctx, d)
	}
	if job.CurrentStageIndex != taskIdx {
		// The stage already completed under an earlier delivery. Resubmit the
		// job's current stage in case the crash happened between advance and
		// submit, then drop this duplicate.
		if err := m.resubmitCurrent(ctx, job, logger); err != nil {
			return err
		}
		return m.queue.Ack(ctx, d)
	}

	if err := m.store.MarkRunning(ctx, job.ID, taskIdx, stage.Label(d.Task.Stage)+" started"); err != nil {
		if errors.Is(err, jobs.ErrTerminalState) || errors.Is(err, jobs.ErrStageMismatch) {
			return m.queue.Ack(ctx, d)
		}
		if retryErr := m.queue.Retry(ctx, d); retryErr != nil && !errors.Is(retryErr, dispatch.ErrDeliveriesExhausted) {
			logger.Error("requeue after tracker write failure", logging.Args(logging.Error(retryErr))...)
		}
		return err
	}

	// Scratch allocation and tracker writes can fail transiently, so input
	// assembly errors take the same retry/dead-letter routing as execution
	// errors; only the validation cases (corrupt prior results) stay fatal.
	input, err := m.buildInput(ctx, job)
	if err != nil {
		return m.routeFailure(ctx, w, d, job, err, logger)
	}

	started := time.Now()
	result, execErr := m.executeStage(ctx, w, d, input)
	metrics.StageDurationSeconds.WithLabelValues(w.stage).Observe(time.Since(started).Seconds())

	if execErr != nil {
		return m.routeFailure(ctx, w, d, job, execErr, logger)
	}

	metrics.StageExecutionsTotal.WithLabelValues(w.stage, "succeeded").Inc()
	logger.Info("stage completed",
		logging.Args(
			logging.String(logging.FieldStage, w.stage),
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", time.Since(started)),
		)...)
	return m.advanceChain(ctx, d, job, taskIdx, input, result, logger)
}

// executeStage runs the handler under the stage's time limits with a claim
// heartbeat. The soft limit cancels the handler's context; the hard limit
// abandons the handler goroutine outright.
func (m *Manager) executeStage(ctx context.Context, w *stageWorker, d *dispatch.Delivery, input stage.Input) (*stage.Result, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go m.heartbeatLoop(hbCtx, d)

	execCtx := services.WithStage(services.WithJobID(ctx, input.JobID), w.stage)
	execCtx = services.WithRequestID(execCtx, uuid.NewString())
	var cancel context.CancelFunc
	if soft := w.softLimit(); soft > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, soft)
		defer cancel()
	}

	report := m.reporter(w.stage, input.JobID)

	hard := w.hardLimit()
	if hard <= 0 {
		return w.handler.Execute(execCtx, input, report)
	}

	type outcome struct {
		result *stage.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := w.handler.Execute(execCtx, input, report)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-time.After(hard):
		// The goroutine is abandoned; its context stays live until the soft
		// deadline or shutdown fires.
		return nil, services.Wrap(services.ErrTimeout, w.stage, "", "hard time limit exceeded", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, d *dispatch.Delivery) {
	ticker := time.NewTicker(m.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.queue.Heartbeat(ctx, d); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("claim heartbeat failed",
					logging.Args(
						logging.Error(err),
						logging.String(logging.FieldJobID, d.Task.JobID),
					)...)
			}
		}
	}
}

// reporter builds the synchronous progress callback for one stage invocation.
// A tracker that cannot be reached surfaces as a retryable failure so the
// delivery is redone rather than completing with lost progress history.
func (m *Manager) reporter(stageName, jobID string) stage.Reporter {
	return func(ctx context.Context, current, total int, message string) error {
		err := m.store.SetProgress(ctx, jobID, current, total, message)
		if err == nil {
			return nil
		}
		if errors.Is(err, jobs.ErrTerminalState) {
			return services.Wrap(services.ErrValidation, stageName, "progress", "job already terminal", err)
		}
		return services.Wrap(services.ErrTransient, stageName, "progress", "tracker update failed", err)
	}
}

func (m *Manager) buildInput(ctx context.Context, job *jobs.Job) (stage.Input, error) {
	scratchDir, err := m.ensureScratch(ctx, job)
	if err != nil {
		return stage.Input{}, err
	}
	prior, err := stage.DecodePrior(job.StageResults)
	if err != nil {
		return stage.Input{}, services.Wrap(services.ErrValidation, job.CurrentStage(), "", "corrupt stage results", err)
	}
	return stage.Input{
		JobID:      job.ID,
		Owners:     job.Owners,
		Params:     job.Params,
		ScratchDir: scratchDir,
		Prior:      prior,
		CreatedAt:  job.CreatedAt,
	}, nil
}

// ensureScratch allocates the job's scratch directory on first use and
// reopens it on redelivery.
func (m *Manager) ensureScratch(ctx context.Context, job *jobs.Job) (string, error) {
	if job.ScratchPath != "" {
		return m.scratch.Ensure(job.ID)
	}
	path, err := m.scratch.Allocate(job.ID)
	if errors.Is(err, scratch.ErrAlreadyAllocated) {
		path, err = m.scratch.Ensure(job.ID)
	}
	if err != nil {
		return "", services.Wrap(services.ErrTransient, job.CurrentStage(), "scratch", "allocate scratch directory", err)
	}
	if err := m.store.SetScratchPath(ctx, job.ID, path); err != nil {
		return "", services.Wrap(services.ErrTransient, job.CurrentStage(), "scratch", "record scratch path", err)
	}
	return path, nil
}

func (m *Manager) routeFailure(ctx context.Context, w *stageWorker, d *dispatch.Delivery, job *jobs.Job, execErr error, logger *slog.Logger) error {
	if errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
		// Shutdown: leave the delivery claimed for the reclaim sweep.
		return execErr
	}

	stageErr := stage.Classify(execErr)
	logger.Error("stage failed",
		logging.Args(
			logging.String(logging.FieldStage, w.stage),
			logging.String("kind", string(stageErr.Kind)),
			logging.Error(execErr),
		)...)

	switch {
	case stageErr.Kind == stage.KindTimeout:
		metrics.StageExecutionsTotal.WithLabelValues(w.stage, "timed_out").Inc()
		m.failJob(ctx, job.ID, w.stage, services.ReasonTimedOut, logger)
		return m.queue.Ack(ctx, d)
	case stageErr.Retryable:
		metrics.StageExecutionsTotal.WithLabelValues(w.stage, "retried").Inc()
		err := m.queue.Retry(ctx, d)
		if errors.Is(err, dispatch.ErrDeliveriesExhausted) {
			metrics.TasksDeadLetteredTotal.WithLabelValues(w.stage).Inc()
			m.failJob(ctx, job.ID, w.stage, services.ReasonExhaustedRetries, logger)
			return nil
		}
		return err
	default:
		metrics.StageExecutionsTotal.WithLabelValues(w.stage, "failed").Inc()
		m.failJob(ctx, job.ID, w.stage, stageErr.Message, logger)
		return m.queue.Ack(ctx, d)
	}
}
