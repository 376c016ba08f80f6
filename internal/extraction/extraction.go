package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/services"
	"stemfuse/internal/services/audioproc"
	"stemfuse/internal/stage"
)

const progressTotal = 4

// Handler derives musical features for each source track by analyzing its
// stems through the external analyzer service. The stage produces metadata
// only; no new audio artifacts.
type Handler struct {
	invoker audioproc.Invoker
	logger  *slog.Logger
}

// New creates the extraction stage handler.
func New(invoker audioproc.Invoker, logger *slog.Logger) *Handler {
	return &Handler{
		invoker: invoker,
		logger:  logging.NewComponentLogger(logger, "extraction"),
	}
}

func (h *Handler) Name() string { return jobs.StageExtraction }

func (h *Handler) Execute(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
	prior, ok := in.PriorResult(jobs.StageSeparation)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, jobs.StageExtraction, "", "separation result missing", nil)
	}
	if err := report(ctx, 0, progressTotal, "collecting stems"); err != nil {
		return nil, err
	}

	stems := stemsByTrack(prior.ArtifactPaths)
	for _, track := range []string{"track1", "track2"} {
		if len(stems[track]) == 0 {
			return nil, services.Wrap(services.ErrValidation, jobs.StageExtraction, "", fmt.Sprintf("no stems recorded for %s", track), nil)
		}
	}
	if err := report(ctx, 1, progressTotal, "stems collected"); err != nil {
		return nil, err
	}

	features := make(map[string]stage.TrackFeatures, 2)
	for i, track := range []string{"track1", "track2"} {
		resp, err := h.invoker.Invoke(ctx, audioproc.ServiceAnalyzer, audioproc.InvokeRequest{
			InputPaths: stems[track],
		})
		if err != nil {
			return nil, err
		}
		var analyzed stage.TrackFeatures
		if err := json.Unmarshal(resp.Metadata, &analyzed); err != nil {
			return nil, services.Wrap(services.ErrService, jobs.StageExtraction, "analyze", "malformed feature payload", err)
		}
		features[track] = analyzed
		h.logger.Info("track analyzed",
			logging.Args(
				logging.String(logging.FieldJobID, in.JobID),
				logging.String("track", track),
				logging.Float64("tempo", analyzed.Tempo),
			)...)
		if err := report(ctx, 2+i, progressTotal, track+" analyzed"); err != nil {
			return nil, err
		}
	}

	return &stage.Result{
		Stage:       jobs.StageExtraction,
		SourceJobID: in.JobID,
		Metadata: stage.Metadata{
			Extraction: &stage.ExtractionMetadata{Tracks: features},
		},
	}, nil
}

// stemsByTrack regroups separation artifacts keyed "trackN/stem" into
// per-track maps of stem name to path.
func stemsByTrack(artifacts map[string]string) map[string]map[string]string {
	grouped := make(map[string]map[string]string)
	for key, path := range artifacts {
		track, stem, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		if grouped[track] == nil {
			grouped[track] = make(map[string]string)
		}
		grouped[track][stem] = path
	}
	return grouped
}
