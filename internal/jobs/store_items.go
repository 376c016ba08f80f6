package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, stage_sequence, current_stage_index, state,
    progress_current, progress_total, progress_message,
    project_id, owner_id, track1_ref, track2_ref, params_json,
    scratch_path, stage_results_json, result_ref, error_reason, summary_json,
    created_at, updated_at, terminal_at`

// Create inserts a new pending job with a fresh identifier and the default
// stage sequence, returning the persisted record.
func (s *Store) Create(ctx context.Context, owners Owners, params GenerationParams) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	id := uuid.NewString()
	sequence := DefaultStageSequence()
	sequenceJSON, err := json.Marshal(sequence)
	if err != nil {
		return nil, fmt.Errorf("marshal stage sequence: %w", err)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            id, stage_sequence, current_stage_index, state,
            progress_current, progress_total, progress_message,
            project_id, owner_id, track1_ref, track2_ref, params_json,
            created_at, updated_at
        ) VALUES (?, ?, 0, ?, 0, 0, '', ?, ?, ?, ?, ?, ?, ?)`,
		id,
		string(sequenceJSON),
		StatePending,
		owners.ProjectID,
		owners.OwnerID,
		owners.Track1Ref,
		owners.Track2Ref,
		string(paramsJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Missing jobs return (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns the most recent jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// Counts aggregates job totals per state for CLI and health reporting.
func (s *Store) Counts(ctx context.Context) (CountSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return CountSummary{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var summary CountSummary
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return CountSummary{}, fmt.Errorf("scan count: %w", err)
		}
		summary.Total += count
		switch State(state) {
		case StatePending:
			summary.Pending = count
		case StateRunning:
			summary.Running = count
		case StateSucceeded:
			summary.Succeeded = count
		case StateFailed:
			summary.Failed = count
		}
	}
	return summary, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job           Job
		sequenceJSON  string
		state         string
		paramsJSON    string
		resultsJSON   string
		summaryJSON   string
		createdAtRaw  string
		updatedAtRaw  string
		terminalAtRaw sql.NullString
	)

	err := scanner.Scan(
		&job.ID,
		&sequenceJSON,
		&job.CurrentStageIndex,
		&state,
		&job.Progress.Current,
		&job.Progress.Total,
		&job.Progress.Message,
		&job.Owners.ProjectID,
		&job.Owners.OwnerID,
		&job.Owners.Track1Ref,
		&job.Owners.Track2Ref,
		&paramsJSON,
		&job.ScratchPath,
		&resultsJSON,
		&job.ResultRef,
		&job.ErrorReason,
		&summaryJSON,
		&createdAtRaw,
		&updatedAtRaw,
		&terminalAtRaw,
	)
	if err != nil {
		return nil, err
	}

	job.State = State(state)
	if err := json.Unmarshal([]byte(sequenceJSON), &job.StageSequence); err != nil {
		return nil, fmt.Errorf("decode stage sequence: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if resultsJSON != "" && resultsJSON != "{}" {
		if err := json.Unmarshal([]byte(resultsJSON), &job.StageResults); err != nil {
			return nil, fmt.Errorf("decode stage results: %w", err)
		}
	}
	if summaryJSON != "" {
		job.Summary = json.RawMessage(summaryJSON)
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtRaw); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtRaw); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if terminalAtRaw.Valid && terminalAtRaw.String != "" {
		parsed, err := time.Parse(time.RFC3339Nano, terminalAtRaw.String)
		if err != nil {
			return nil, fmt.Errorf("parse terminal_at: %w", err)
		}
		job.TerminalAt = &parsed
	}
	return &job, nil
}
