package workflow

import (
	"context"

	"stemfuse/internal/jobs"
	"stemfuse/internal/services"
)

// Status returns the externally visible snapshot for one job.
func (m *Manager) Status(ctx context.Context, jobID string) (jobs.Status, error) {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return jobs.Status{}, err
	}
	if job == nil {
		return jobs.Status{}, services.Wrap(services.ErrNotFound, "", "status", jobID, nil)
	}
	return job.StatusSnapshot(), nil
}

// List returns recent jobs for the operator surface.
func (m *Manager) List(ctx context.Context, limit int) ([]*jobs.Job, error) {
	return m.store.List(ctx, limit)
}

// Counts aggregates job totals per lifecycle state.
func (m *Manager) Counts(ctx context.Context) (jobs.CountSummary, error) {
	return m.store.Counts(ctx)
}

// QueueDepths reports the number of waiting tasks per stage queue.
func (m *Manager) QueueDepths(ctx context.Context) (map[string]int64, error) {
	return m.queue.Depths(ctx)
}
