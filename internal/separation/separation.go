package separation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/services"
	"stemfuse/internal/services/audioproc"
	"stemfuse/internal/stage"
	"stemfuse/internal/storage"
)

// StemNames are the separation classes every source track resolves into.
var StemNames = []string{"vocals", "drums", "bass", "other"}

const progressTotal = 4

// Handler downloads the two source tracks into scratch and splits each into
// its stems through the external separator service.
type Handler struct {
	store   storage.Store
	invoker audioproc.Invoker
	logger  *slog.Logger
}

// New creates the separation stage handler.
func New(store storage.Store, invoker audioproc.Invoker, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		invoker: invoker,
		logger:  logging.NewComponentLogger(logger, "separation"),
	}
}

func (h *Handler) Name() string { return jobs.StageSeparation }

// Execute downloads both tracks, separates each into four stems, and records
// per-track source metadata. All writes target deterministic paths under the
// job's scratch directory so a redelivered invocation overwrites cleanly.
func (h *Handler) Execute(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
	refs := map[string]string{
		"track1": in.Owners.Track1Ref,
		"track2": in.Owners.Track2Ref,
	}
	for name, ref := range refs {
		if ref == "" {
			return nil, services.Wrap(services.ErrValidation, jobs.StageSeparation, "", fmt.Sprintf("missing %s reference", name), nil)
		}
	}
	if err := report(ctx, 0, progressTotal, "downloading source tracks"); err != nil {
		return nil, err
	}

	sourcesDir := filepath.Join(in.ScratchDir, "sources")
	if err := os.MkdirAll(sourcesDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, jobs.StageSeparation, "download", "create sources directory", err)
	}

	sources := make(map[string]stage.TrackSource, len(refs))
	sourcePaths := make(map[string]string, len(refs))
	for _, name := range []string{"track1", "track2"} {
		ref := refs[name]
		localPath := filepath.Join(sourcesDir, name+".wav")
		if err := h.store.Download(ctx, ref, localPath); err != nil {
			return nil, err
		}
		info, err := h.store.Metadata(ctx, ref)
		if err != nil {
			return nil, err
		}
		sources[name] = stage.TrackSource{Ref: ref, SizeBytes: info.Size, ContentType: info.ContentType}
		sourcePaths[name] = localPath
	}
	if err := report(ctx, 1, progressTotal, "source tracks downloaded"); err != nil {
		return nil, err
	}

	artifacts := make(map[string]string, len(refs)*len(StemNames))
	for i, name := range []string{"track1", "track2"} {
		stemsDir := filepath.Join(in.ScratchDir, "stems", name)
		if err := os.MkdirAll(stemsDir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrTransient, jobs.StageSeparation, "separate", "create stems directory", err)
		}
		resp, err := h.invoker.Invoke(ctx, audioproc.ServiceSeparator, audioproc.InvokeRequest{
			InputPaths: map[string]string{"source": sourcePaths[name]},
			OutputDir:  stemsDir,
		})
		if err != nil {
			return nil, err
		}
		for _, stem := range StemNames {
			path, ok := resp.OutputPaths[stem]
			if !ok || path == "" {
				return nil, services.Wrap(services.ErrService, jobs.StageSeparation, "separate", fmt.Sprintf("%s stem missing for %s", stem, name), nil)
			}
			artifacts[name+"/"+stem] = path
		}
		h.logger.Info("track separated",
			logging.Args(logging.String(logging.FieldJobID, in.JobID), logging.String("track", name))...)
		if err := report(ctx, 2+i, progressTotal, name+" separated"); err != nil {
			return nil, err
		}
	}

	if err := report(ctx, progressTotal, progressTotal, "stems ready"); err != nil {
		return nil, err
	}

	return &stage.Result{
		Stage:         jobs.StageSeparation,
		SourceJobID:   in.JobID,
		ArtifactPaths: artifacts,
		Metadata: stage.Metadata{
			Separation: &stage.SeparationMetadata{Tracks: sources},
		},
	}, nil
}
