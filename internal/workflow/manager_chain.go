package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"stemfuse/internal/dispatch"
	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/metrics"
	"stemfuse/internal/services"
	"stemfuse/internal/stage"
)

// Enqueue validates the request, creates the tracker record, and submits the
// first stage. It returns as soon as the task is durably queued.
func (m *Manager) Enqueue(ctx context.Context, owners jobs.Owners, params jobs.GenerationParams) (*jobs.Job, error) {
	if strings.TrimSpace(owners.Track1Ref) == "" || strings.TrimSpace(owners.Track2Ref) == "" {
		return nil, services.Wrap(services.ErrValidation, "", "enqueue", "two track references are required", nil)
	}

	job, err := m.store.Create(ctx, owners, params)
	if err != nil {
		return nil, err
	}
	if err := m.queue.Submit(ctx, dispatch.Task{JobID: job.ID, Stage: job.StageSequence[0]}); err != nil {
		// The pending row stays for the operator; nothing will pick it up.
		m.logger.Error("submit first stage failed",
			logging.Args(logging.Error(err), logging.String(logging.FieldJobID, job.ID))...)
		return nil, err
	}
	metrics.JobsEnqueuedTotal.Inc()
	m.logger.Info("job enqueued",
		logging.Args(
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, job.StageSequence[0]),
		)...)
	return job, nil
}

// advanceChain records the stage result and moves the job forward exactly
// once. The advance is a compare-and-swap on the stage index, so a duplicate
// delivery that raced to completion becomes a no-op here.
func (m *Manager) advanceChain(ctx context.Context, d *dispatch.Delivery, job *jobs.Job, taskIdx int, input stage.Input, result *stage.Result, logger *slog.Logger) error {
	encoded, err := result.Encode()
	if err != nil {
		m.failJob(ctx, job.ID, d.Task.Stage, "encode stage result", logger)
		return m.queue.Ack(ctx, d)
	}
	if err := m.store.RecordStageResult(ctx, job.ID, d.Task.Stage, encoded); err != nil {
		if errors.Is(err, jobs.ErrTerminalState) {
			return m.queue.Ack(ctx, d)
		}
		if retryErr := m.queue.Retry(ctx, d); retryErr != nil && !errors.Is(retryErr, dispatch.ErrDeliveriesExhausted) {
			logger.Error("requeue after result write failure", logging.Args(logging.Error(retryErr))...)
		}
		return err
	}

	if taskIdx == len(job.StageSequence)-1 {
		// The index stays clamped at the last stage; the terminal CAS in
		// MarkSucceeded dedupes racing deliveries of the final stage.
		m.finalize(ctx, job, input, result, logger)
		return m.queue.Ack(ctx, d)
	}

	advanced, err := m.store.AdvanceStage(ctx, job.ID, taskIdx)
	if err != nil {
		if retryErr := m.queue.Retry(ctx, d); retryErr != nil && !errors.Is(retryErr, dispatch.ErrDeliveriesExhausted) {
			logger.Error("requeue after advance failure", logging.Args(logging.Error(retryErr))...)
		}
		return err
	}
	if !advanced {
		// Another delivery of this stage already advanced the job.
		return m.queue.Ack(ctx, d)
	}

	next := job.StageSequence[taskIdx+1]
	if err := m.queue.Submit(ctx, dispatch.Task{JobID: job.ID, Stage: next}); err != nil {
		// The index already advanced; a redelivery of this task will resubmit
		// the current stage through the duplicate-delivery path.
		logger.Error("submit next stage failed",
			logging.Args(logging.Error(err), logging.String(logging.FieldStage, next))...)
		return err
	}
	return m.queue.Ack(ctx, d)
}

// resubmitCurrent re-enqueues the job's current stage. It heals a chain that
// lost its task between the advance and the submit.
func (m *Manager) resubmitCurrent(ctx context.Context, job *jobs.Job, logger *slog.Logger) error {
	current := job.CurrentStage()
	if current == "" {
		return nil
	}
	if err := m.queue.Submit(ctx, dispatch.Task{JobID: job.ID, Stage: current}); err != nil {
		logger.Error("resubmit current stage failed",
			logging.Args(logging.Error(err), logging.String(logging.FieldStage, current))...)
		return err
	}
	logger.Info("current stage resubmitted after duplicate delivery",
		logging.Args(logging.String(logging.FieldStage, current))...)
	return nil
}

// finalize marks the job succeeded with its durable summary and releases the
// scratch directory.
func (m *Manager) finalize(ctx context.Context, job *jobs.Job, input stage.Input, result *stage.Result, logger *slog.Logger) {
	summary, ref := buildSummary(input.Prior, result, job.CreatedAt)
	if err := m.store.MarkSucceeded(ctx, job.ID, ref, summary); err != nil {
		if errors.Is(err, jobs.ErrTerminalState) {
			// A racing delivery of the final stage finalized first.
			return
		}
		logger.Error("mark succeeded failed", logging.Args(logging.Error(err))...)
		m.setLastError(err)
		return
	}
	metrics.JobsCompletedTotal.WithLabelValues(string(jobs.StateSucceeded)).Inc()
	m.releaseScratch(job.ID, logger)
	if err := m.notifier.NotifyJobSucceeded(ctx, job.ID, ref); err != nil {
		logger.Warn("success notification failed", logging.Args(logging.Error(err))...)
	}
	logger.Info("job succeeded",
		logging.Args(
			logging.String(logging.FieldJobID, job.ID),
			logging.String("result_ref", ref),
		)...)
}

// failJob transitions the job to FAILED and reclaims its scratch space.
// Terminal races are tolerated; the first terminal write wins.
func (m *Manager) failJob(ctx context.Context, jobID, stageName, reason string, logger *slog.Logger) {
	if err := m.store.MarkFailed(ctx, jobID, reason); err != nil && !errors.Is(err, jobs.ErrTerminalState) {
		logger.Error("mark failed failed", logging.Args(logging.Error(err))...)
		m.setLastError(err)
		return
	}
	metrics.JobsCompletedTotal.WithLabelValues(string(jobs.StateFailed)).Inc()
	m.releaseScratch(jobID, logger)
	if err := m.notifier.NotifyJobFailed(ctx, jobID, stageName, reason); err != nil {
		logger.Warn("failure notification failed", logging.Args(logging.Error(err))...)
	}
}

// failExhausted handles a dead-lettered task surfaced by the reclaim sweep.
func (m *Manager) failExhausted(ctx context.Context, jobID, stageName string) {
	logger := m.logger.With(logging.String(logging.FieldJobID, jobID))
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		logger.Error("tracker read for dead-lettered task failed", logging.Args(logging.Error(err))...)
		return
	}
	if job == nil || job.IsTerminal() {
		return
	}
	m.failJob(ctx, jobID, stageName, services.ReasonExhaustedRetries, logger)
}

func (m *Manager) releaseScratch(jobID string, logger *slog.Logger) {
	if err := m.scratch.Release(jobID); err != nil {
		// The janitor sweep picks up whatever terminal cleanup misses.
		logger.Warn("scratch release failed; janitor will reclaim",
			logging.Args(logging.Error(err), logging.String(logging.FieldJobID, jobID))...)
	}
}
