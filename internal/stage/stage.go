package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stemfuse/internal/jobs"
)

// Reporter delivers a progress milestone to the tracker. Calls are
// synchronous: when the reporter returns, the update is durable (or the error
// tells the stage to stop pretending it is).
type Reporter func(ctx context.Context, current, total int, message string) error

// Input is everything a stage invocation may consume: the job's identity and
// parameters, its exclusive scratch directory, and the accumulated results of
// the stages before it.
type Input struct {
	JobID      string
	Owners     jobs.Owners
	Params     jobs.GenerationParams
	ScratchDir string
	Prior      map[string]Result
	CreatedAt  time.Time
}

// PriorResult returns the recorded result of an earlier stage.
func (in Input) PriorResult(stage string) (Result, bool) {
	r, ok := in.Prior[stage]
	return r, ok
}

// Handler is the contract every pipeline stage implements.
type Handler interface {
	// Name returns the stage identifier used for queue routing and results.
	Name() string
	// Execute runs the stage to completion. It must confine all intermediate
	// files to in.ScratchDir at deterministic job-scoped paths so that a
	// redelivered invocation overwrites rather than duplicates.
	Execute(ctx context.Context, in Input, report Reporter) (*Result, error)
}

// Result is the output of one stage and part of the next stage's input.
type Result struct {
	Stage         string            `json:"stage"`
	SourceJobID   string            `json:"source_job_id"`
	ArtifactPaths map[string]string `json:"artifact_paths,omitempty"`
	Metadata      Metadata          `json:"metadata"`
}

// Encode renders the result for the tracker's accumulated stage context.
func (r *Result) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", r.Stage, err)
	}
	return data, nil
}

// DecodePrior rebuilds the per-stage results map from the tracker record.
func DecodePrior(raw map[string]json.RawMessage) (map[string]Result, error) {
	prior := make(map[string]Result, len(raw))
	for stage, data := range raw {
		var result Result
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", stage, err)
		}
		prior[stage] = result
	}
	return prior, nil
}

var labelCaser = cases.Title(language.English)

// Label converts a stage identifier into its display form ("separation" ->
// "Separation").
func Label(stage string) string {
	if stage == "" {
		return ""
	}
	return labelCaser.String(strings.ReplaceAll(stage, "_", " "))
}
