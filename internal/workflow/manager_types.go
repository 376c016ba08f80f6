package workflow

import (
	"encoding/json"
	"log/slog"
	"time"

	"stemfuse/internal/config"
	"stemfuse/internal/stage"
)

// stageWorker is one consumer goroutine bound to a stage queue.
type stageWorker struct {
	name    string
	stage   string
	limits  config.StageLimits
	handler stage.Handler
	logger  *slog.Logger
}

func (w *stageWorker) softLimit() time.Duration {
	if w.limits.SoftLimitSeconds <= 0 {
		return 0
	}
	return time.Duration(w.limits.SoftLimitSeconds) * time.Second
}

func (w *stageWorker) hardLimit() time.Duration {
	if w.limits.HardLimitSeconds <= 0 {
		return 0
	}
	return time.Duration(w.limits.HardLimitSeconds) * time.Second
}

// Summary is the durable record persisted on the job row when the final stage
// completes. It mirrors what operators need for audit without reopening
// scratch artifacts.
type Summary struct {
	Features          map[string]stage.TrackFeatures `json:"features,omitempty"`
	Generation        *stage.FusionMetadata          `json:"generation,omitempty"`
	Enhancement       *stage.EnhancementMetadata     `json:"enhancement,omitempty"`
	ProcessingSeconds float64                        `json:"processing_seconds"`
	ArtifactRef       string                         `json:"artifact_ref"`
}

func buildSummary(prior map[string]stage.Result, final *stage.Result, started time.Time) (json.RawMessage, string) {
	summary := Summary{
		ProcessingSeconds: time.Since(started).Seconds(),
	}
	if extraction, ok := prior["extraction"]; ok && extraction.Metadata.Extraction != nil {
		summary.Features = extraction.Metadata.Extraction.Tracks
	}
	if fusion, ok := prior["fusion"]; ok && fusion.Metadata.Fusion != nil {
		summary.Generation = fusion.Metadata.Fusion
	}
	var ref string
	if final != nil && final.Metadata.Enhancement != nil {
		summary.Enhancement = final.Metadata.Enhancement
		ref = final.Metadata.Enhancement.StorageRef
	}
	summary.ArtifactRef = ref

	encoded, err := json.Marshal(summary)
	if err != nil {
		return nil, ref
	}
	return encoded, ref
}
