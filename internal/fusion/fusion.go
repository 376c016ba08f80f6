package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/services"
	"stemfuse/internal/services/audioproc"
	"stemfuse/internal/stage"
)

const progressTotal = 3

// Parameter bounds and defaults for the generative service.
const (
	minDurationSeconds     = 5
	maxDurationSeconds     = 30
	defaultDurationSeconds = 15
	minGuidanceScale       = 1.0
	maxGuidanceScale       = 7.0
	defaultGuidanceScale   = 3.0
	defaultTemperature     = 1.0
)

// Handler synthesizes the fused track from the extracted features through the
// external generator service.
type Handler struct {
	invoker audioproc.Invoker
	logger  *slog.Logger
}

// New creates the fusion stage handler.
func New(invoker audioproc.Invoker, logger *slog.Logger) *Handler {
	return &Handler{
		invoker: invoker,
		logger:  logging.NewComponentLogger(logger, "fusion"),
	}
}

func (h *Handler) Name() string { return jobs.StageFusion }

func (h *Handler) Execute(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
	prior, ok := in.PriorResult(jobs.StageExtraction)
	if !ok || prior.Metadata.Extraction == nil {
		return nil, services.Wrap(services.ErrValidation, jobs.StageFusion, "", "extraction features missing", nil)
	}
	features := prior.Metadata.Extraction.Tracks
	track1, ok1 := features["track1"]
	track2, ok2 := features["track2"]
	if !ok1 || !ok2 {
		return nil, services.Wrap(services.ErrValidation, jobs.StageFusion, "", "features required for both tracks", nil)
	}
	if err := report(ctx, 0, progressTotal, "building generation prompt"); err != nil {
		return nil, err
	}

	params := resolveParams(in.Params, track1, track2)

	outputDir := filepath.Join(in.ScratchDir, "fusion")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, jobs.StageFusion, "generate", "create fusion directory", err)
	}
	if err := report(ctx, 1, progressTotal, "generating fused track"); err != nil {
		return nil, err
	}

	resp, err := h.invoker.Invoke(ctx, audioproc.ServiceGenerator, audioproc.InvokeRequest{
		OutputDir: outputDir,
		Parameters: map[string]string{
			"prompt":         params.Prompt,
			"duration":       strconv.Itoa(params.DurationSeconds),
			"guidance_scale": strconv.FormatFloat(params.GuidanceScale, 'f', -1, 64),
			"temperature":    strconv.FormatFloat(params.Temperature, 'f', -1, 64),
		},
	})
	if err != nil {
		return nil, err
	}
	fusedPath, ok := resp.OutputPaths["fusion"]
	if !ok || fusedPath == "" {
		return nil, services.Wrap(services.ErrService, jobs.StageFusion, "generate", "fusion artifact missing from response", nil)
	}

	h.logger.Info("fusion generated",
		logging.Args(
			logging.String(logging.FieldJobID, in.JobID),
			logging.Int("duration_seconds", params.DurationSeconds),
		)...)
	if err := report(ctx, progressTotal, progressTotal, "fused track generated"); err != nil {
		return nil, err
	}

	return &stage.Result{
		Stage:         jobs.StageFusion,
		SourceJobID:   in.JobID,
		ArtifactPaths: map[string]string{"fusion": fusedPath},
		Metadata: stage.Metadata{
			Fusion: &params,
		},
	}, nil
}

// resolveParams derives the generation parameters from the enqueue-time knobs
// and the extracted features, clamping out-of-range values rather than
// rejecting them.
func resolveParams(p jobs.GenerationParams, track1, track2 stage.TrackFeatures) stage.FusionMetadata {
	prompt := p.Prompt
	if prompt == "" {
		targetTempo := (track1.Tempo + track2.Tempo) / 2
		prompt = fmt.Sprintf(
			"Create a fusion track with tempo %.1f BPM, combining the energy of track 1 (%.2f) and the danceability of track 2 (%.2f).",
			targetTempo, track1.Energy, track2.Danceability)
	}

	duration := p.DurationSeconds
	if duration == 0 {
		duration = defaultDurationSeconds
	}
	duration = min(max(duration, minDurationSeconds), maxDurationSeconds)

	guidance := p.GuidanceScale
	if guidance == 0 {
		guidance = defaultGuidanceScale
	}
	guidance = min(max(guidance, minGuidanceScale), maxGuidanceScale)

	temperature := p.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	return stage.FusionMetadata{
		Prompt:          prompt,
		DurationSeconds: duration,
		GuidanceScale:   guidance,
		Temperature:     temperature,
	}
}
