package enhancement

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/services"
	"stemfuse/internal/services/audioproc"
	"stemfuse/internal/stage"
	"stemfuse/internal/storage"
)

const progressTotal = 5

// Fixed enhancement chain parameters, recorded in the durable summary.
const (
	compressThreshold = 0.5
	compressRatio     = 4.0
	eqProfile         = "bass_boost"
)

// Handler applies the post-processing chain to the fused track through the
// external enhancer service and uploads the result to durable storage. It is
// the only stage that crosses into external persistence.
type Handler struct {
	store   storage.Store
	invoker audioproc.Invoker
	logger  *slog.Logger
}

// New creates the enhancement stage handler. The store should already carry
// the retry wrapper so transient upload failures do not fail the stage.
func New(store storage.Store, invoker audioproc.Invoker, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		invoker: invoker,
		logger:  logging.NewComponentLogger(logger, "enhancement"),
	}
}

func (h *Handler) Name() string { return jobs.StageEnhancement }

func (h *Handler) Execute(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
	prior, ok := in.PriorResult(jobs.StageFusion)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, jobs.StageEnhancement, "", "fusion result missing", nil)
	}
	fusedPath, ok := prior.ArtifactPaths["fusion"]
	if !ok || fusedPath == "" {
		return nil, services.Wrap(services.ErrValidation, jobs.StageEnhancement, "", "fusion artifact path missing", nil)
	}
	if err := report(ctx, 0, progressTotal, "loading fused track"); err != nil {
		return nil, err
	}
	if _, err := os.Stat(fusedPath); err != nil {
		return nil, services.Wrap(services.ErrValidation, jobs.StageEnhancement, "", "fusion artifact not on disk", err)
	}

	outputDir := filepath.Join(in.ScratchDir, "enhanced")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, jobs.StageEnhancement, "enhance", "create enhanced directory", err)
	}
	if err := report(ctx, 1, progressTotal, "applying enhancement chain"); err != nil {
		return nil, err
	}

	resp, err := h.invoker.Invoke(ctx, audioproc.ServiceEnhancer, audioproc.InvokeRequest{
		InputPaths: map[string]string{"fusion": fusedPath},
		OutputDir:  outputDir,
		Parameters: map[string]string{
			"normalize":          "true",
			"compress_threshold": strconv.FormatFloat(compressThreshold, 'f', -1, 64),
			"compress_ratio":     strconv.FormatFloat(compressRatio, 'f', -1, 64),
			"eq":                 eqProfile,
			"limiter":            "true",
		},
	})
	if err != nil {
		return nil, err
	}
	enhancedPath, ok := resp.OutputPaths["enhanced"]
	if !ok || enhancedPath == "" {
		return nil, services.Wrap(services.ErrService, jobs.StageEnhancement, "enhance", "enhanced artifact missing from response", nil)
	}
	if err := report(ctx, 3, progressTotal, "uploading final artifact"); err != nil {
		return nil, err
	}

	ref, err := h.store.Upload(ctx, enhancedPath)
	if err != nil {
		return nil, err
	}
	h.logger.Info("final artifact uploaded",
		logging.Args(
			logging.String(logging.FieldJobID, in.JobID),
			logging.String("ref", ref),
		)...)
	if err := report(ctx, progressTotal, progressTotal, "enhancement complete"); err != nil {
		return nil, err
	}

	return &stage.Result{
		Stage:         jobs.StageEnhancement,
		SourceJobID:   in.JobID,
		ArtifactPaths: map[string]string{"enhanced": enhancedPath},
		Metadata: stage.Metadata{
			Enhancement: &stage.EnhancementMetadata{
				Normalized:        true,
				CompressThreshold: compressThreshold,
				CompressRatio:     compressRatio,
				EQ:                eqProfile,
				Limiter:           true,
				StorageRef:        ref,
			},
		},
	}, nil
}
