package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// MarkRunning records stage entry: state becomes running and progress resets
// for the new stage. stageIndex must match the job's current index; a
// mismatch means the delivery is stale and must not touch the record.
func (s *Store) MarkRunning(ctx context.Context, id string, stageIndex int, message string) error {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	if job.IsTerminal() {
		return ErrTerminalState
	}
	if job.CurrentStageIndex != stageIndex {
		return ErrStageMismatch
	}

	_, err = s.execWithRetry(
		ctx,
		`UPDATE jobs SET state = ?, progress_current = 0, progress_total = 0,
            progress_message = ?, error_reason = '', updated_at = ?
         WHERE id = ? AND state IN (?, ?)`,
		StateRunning, message, nowStamp(), id, StatePending, StateRunning,
	)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// SetProgress updates the current stage's progress. current never decreases
// within a stage; lower values are ignored rather than rolled back.
func (s *Store) SetProgress(ctx context.Context, id string, current, total int, message string) error {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	if job.IsTerminal() {
		return ErrTerminalState
	}
	if current < job.Progress.Current {
		return nil
	}

	_, err = s.execWithRetry(
		ctx,
		`UPDATE jobs SET progress_current = ?, progress_total = ?, progress_message = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		current, total, message, nowStamp(), id, StateRunning,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// SetScratchPath records the scratch directory allocated for this job.
func (s *Store) SetScratchPath(ctx context.Context, id, path string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET scratch_path = ?, updated_at = ? WHERE id = ?`,
		path, nowStamp(), id,
	)
	if err != nil {
		return fmt.Errorf("set scratch path: %w", err)
	}
	return nil
}

// RecordStageResult merges a completed stage's result into the accumulated
// per-stage context the next stage consumes.
func (s *Store) RecordStageResult(ctx context.Context, id, stage string, result json.RawMessage) error {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}

	merged := job.StageResults
	if merged == nil {
		merged = make(map[string]json.RawMessage, 1)
	}
	merged[stage] = result
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal stage results: %w", err)
	}

	_, err = s.execWithRetry(
		ctx,
		`UPDATE jobs SET stage_results_json = ?, updated_at = ? WHERE id = ?`,
		string(encoded), nowStamp(), id,
	)
	if err != nil {
		return fmt.Errorf("record stage result: %w", err)
	}
	return nil
}

// AdvanceStage moves the job from fromIndex to the next stage, resetting
// progress. The compare-and-swap on the index makes duplicate deliveries
// advance a job at most once.
func (s *Store) AdvanceStage(ctx context.Context, id string, fromIndex int) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET current_stage_index = ?, progress_current = 0,
            progress_total = 0, progress_message = '', updated_at = ?
         WHERE id = ? AND current_stage_index = ? AND state = ?`,
		fromIndex+1, nowStamp(), id, fromIndex, StateRunning,
	)
	if err != nil {
		return false, fmt.Errorf("advance stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance stage rows: %w", err)
	}
	return affected > 0, nil
}

// MarkSucceeded records the terminal success state with the durable artifact
// reference and the summary record. The write is a compare-and-swap on the
// non-terminal states: any already terminal job, succeeded included, yields
// ErrTerminalState, so racing final-stage deliveries finalize exactly once.
func (s *Store) MarkSucceeded(ctx context.Context, id, resultRef string, summary json.RawMessage) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET state = ?, result_ref = ?, summary_json = ?,
            progress_message = 'Completed', updated_at = ?, terminal_at = ?
         WHERE id = ? AND state IN (?, ?)`,
		StateSucceeded, resultRef, string(summary), nowStamp(), nowStamp(), id, StatePending, StateRunning,
	)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("terminal write rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	return ErrTerminalState
}

// MarkFailed records the terminal failure state with an operator-facing
// reason. Idempotent for jobs already failed; succeeded jobs are immutable.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET state = ?, error_reason = ?, progress_message = ?,
            updated_at = ?, terminal_at = ?
         WHERE id = ? AND state IN (?, ?)`,
		StateFailed, reason, reason, nowStamp(), nowStamp(), id, StatePending, StateRunning,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.checkTerminalWrite(ctx, id, res, StateFailed)
}

func (s *Store) checkTerminalWrite(ctx context.Context, id string, res interface{ RowsAffected() (int64, error) }, want State) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("terminal write rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	if job.State == want {
		return nil
	}
	return ErrTerminalState
}
