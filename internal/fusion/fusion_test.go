package fusion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/services"
	"stemfuse/internal/services/audioproc"
	"stemfuse/internal/stage"
)

type fakeInvoker struct {
	calls  []audioproc.InvokeRequest
	invoke func(req audioproc.InvokeRequest) (*audioproc.InvokeResponse, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, service string, req audioproc.InvokeRequest) (*audioproc.InvokeResponse, error) {
	f.calls = append(f.calls, req)
	return f.invoke(req)
}

func generateResponse(req audioproc.InvokeRequest) (*audioproc.InvokeResponse, error) {
	path := filepath.Join(req.OutputDir, "fusion.wav")
	if err := os.WriteFile(path, []byte("fused"), 0o644); err != nil {
		return nil, err
	}
	return &audioproc.InvokeResponse{OutputPaths: map[string]string{"fusion": path}}, nil
}

func noopReport(ctx context.Context, current, total int, message string) error { return nil }

func fusionInput(t *testing.T, params jobs.GenerationParams) stage.Input {
	t.Helper()
	return stage.Input{
		JobID:      "job-1",
		Params:     params,
		ScratchDir: t.TempDir(),
		Prior: map[string]stage.Result{
			jobs.StageExtraction: {
				Stage: jobs.StageExtraction,
				Metadata: stage.Metadata{
					Extraction: &stage.ExtractionMetadata{
						Tracks: map[string]stage.TrackFeatures{
							"track1": {Tempo: 120, Energy: 0.9, Danceability: 0.4},
							"track2": {Tempo: 100, Energy: 0.5, Danceability: 0.8},
						},
					},
				},
			},
		},
	}
}

func TestExecuteDerivesPromptFromFeatures(t *testing.T) {
	invoker := &fakeInvoker{invoke: generateResponse}
	handler := New(invoker, logging.NewNop())

	result, err := handler.Execute(context.Background(), fusionInput(t, jobs.GenerationParams{}), noopReport)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	meta := result.Metadata.Fusion
	if meta == nil {
		t.Fatal("fusion metadata missing")
	}
	if !strings.Contains(meta.Prompt, "tempo 110.0 BPM") {
		t.Fatalf("prompt = %q, want average tempo", meta.Prompt)
	}
	if !strings.Contains(meta.Prompt, "energy of track 1 (0.90)") || !strings.Contains(meta.Prompt, "danceability of track 2 (0.80)") {
		t.Fatalf("prompt = %q", meta.Prompt)
	}
	if meta.DurationSeconds != 15 || meta.GuidanceScale != 3.0 || meta.Temperature != 1.0 {
		t.Fatalf("defaults not applied: %+v", meta)
	}

	if got := invoker.calls[0].Parameters["prompt"]; got != meta.Prompt {
		t.Fatalf("generator prompt = %q", got)
	}
	if _, err := os.Stat(result.ArtifactPaths["fusion"]); err != nil {
		t.Fatalf("fusion artifact not on disk: %v", err)
	}
}

func TestExecuteCustomPromptWins(t *testing.T) {
	invoker := &fakeInvoker{invoke: generateResponse}
	handler := New(invoker, logging.NewNop())
	params := jobs.GenerationParams{Prompt: "dreamy lofi mashup"}

	result, err := handler.Execute(context.Background(), fusionInput(t, params), noopReport)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Metadata.Fusion.Prompt != "dreamy lofi mashup" {
		t.Fatalf("prompt = %q", result.Metadata.Fusion.Prompt)
	}
}

func TestExecuteClampsParameters(t *testing.T) {
	tests := []struct {
		name         string
		params       jobs.GenerationParams
		wantDuration int
		wantGuidance float64
	}{
		{"below minimum", jobs.GenerationParams{DurationSeconds: 1, GuidanceScale: 0.2}, 5, 1.0},
		{"above maximum", jobs.GenerationParams{DurationSeconds: 90, GuidanceScale: 12}, 30, 7.0},
		{"in range", jobs.GenerationParams{DurationSeconds: 20, GuidanceScale: 4.5}, 20, 4.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := New(&fakeInvoker{invoke: generateResponse}, logging.NewNop())
			result, err := handler.Execute(context.Background(), fusionInput(t, tc.params), noopReport)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			meta := result.Metadata.Fusion
			if meta.DurationSeconds != tc.wantDuration || meta.GuidanceScale != tc.wantGuidance {
				t.Fatalf("clamped params = %+v", meta)
			}
		})
	}
}

func TestExecuteRequiresFeatures(t *testing.T) {
	handler := New(&fakeInvoker{invoke: generateResponse}, logging.NewNop())
	_, err := handler.Execute(context.Background(), stage.Input{JobID: "job-1", ScratchDir: t.TempDir()}, noopReport)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestExecuteMissingArtifactIsFatal(t *testing.T) {
	invoker := &fakeInvoker{invoke: func(req audioproc.InvokeRequest) (*audioproc.InvokeResponse, error) {
		return &audioproc.InvokeResponse{}, nil
	}}
	handler := New(invoker, logging.NewNop())
	_, err := handler.Execute(context.Background(), fusionInput(t, jobs.GenerationParams{}), noopReport)
	if !errors.Is(err, services.ErrService) {
		t.Fatalf("err = %v, want ErrService", err)
	}
}
