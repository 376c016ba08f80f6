package jobs

import (
	"encoding/json"
	"strings"
	"time"
)

// State represents the lifecycle of a pipeline job. Transitions are
// forward-only: pending -> running -> succeeded | failed.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Stage identifiers of the fusion pipeline, in execution order.
const (
	StageSeparation  = "separation"
	StageExtraction  = "extraction"
	StageFusion      = "fusion"
	StageEnhancement = "enhancement"
)

// DefaultStageSequence returns the ordered stage chain every fusion job
// passes through.
func DefaultStageSequence() []string {
	return []string{StageSeparation, StageExtraction, StageFusion, StageEnhancement}
}

var allStates = []State{StatePending, StateRunning, StateSucceeded, StateFailed}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStates {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Owners carries the originating entity references. The pipeline passes them
// through unchanged; the surrounding application owns their meaning.
type Owners struct {
	ProjectID int64  `json:"project_id"`
	OwnerID   int64  `json:"owner_id"`
	Track1Ref string `json:"track1_ref"`
	Track2Ref string `json:"track2_ref"`
}

// GenerationParams are the user-tunable knobs for the generative fusion
// stage, captured at enqueue time.
type GenerationParams struct {
	Prompt          string  `json:"prompt,omitempty"`
	DurationSeconds int     `json:"duration_seconds"`
	Temperature     float64 `json:"temperature"`
	GuidanceScale   float64 `json:"guidance_scale"`
}

// Progress is scoped to the currently running stage and resets on stage entry.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Job is the unit of orchestration persisted in SQLite. The row outlives the
// job's scratch resources and serves as the durable audit record.
type Job struct {
	ID                string
	StageSequence     []string
	CurrentStageIndex int
	State             State
	Progress          Progress
	Owners            Owners
	Params            GenerationParams
	ScratchPath       string
	StageResults      map[string]json.RawMessage
	ResultRef         string
	ErrorReason       string
	Summary           json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TerminalAt        *time.Time
}

// CurrentStage returns the stage identifier the job is at, or "" past the end.
func (j *Job) CurrentStage() string {
	if j == nil || j.CurrentStageIndex < 0 || j.CurrentStageIndex >= len(j.StageSequence) {
		return ""
	}
	return j.StageSequence[j.CurrentStageIndex]
}

// StageIndex returns the position of a stage in this job's sequence, or -1.
func (j *Job) StageIndex(stage string) int {
	for i, name := range j.StageSequence {
		if name == stage {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether the job reached a terminal state.
func (j *Job) IsTerminal() bool {
	return j != nil && j.State.IsTerminal()
}

// Status is the read-only snapshot served to status queries.
type Status struct {
	JobID       string   `json:"job_id"`
	State       State    `json:"state"`
	StageIndex  int      `json:"stage_index"`
	Stage       string   `json:"stage,omitempty"`
	Progress    Progress `json:"progress"`
	ResultRef   string   `json:"result_ref,omitempty"`
	ErrorReason string   `json:"error_reason,omitempty"`
}

// StatusSnapshot derives the externally visible status from a job record.
func (j *Job) StatusSnapshot() Status {
	return Status{
		JobID:       j.ID,
		State:       j.State,
		StageIndex:  j.CurrentStageIndex,
		Stage:       j.CurrentStage(),
		Progress:    j.Progress,
		ResultRef:   j.ResultRef,
		ErrorReason: j.ErrorReason,
	}
}

// CountSummary aggregates job counts per lifecycle state.
type CountSummary struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
}
