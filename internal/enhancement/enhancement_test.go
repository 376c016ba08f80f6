package enhancement

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/services"
	"stemfuse/internal/services/audioproc"
	"stemfuse/internal/stage"
	"stemfuse/internal/storage"
)

type fakeStore struct {
	uploads []string
	fail    error
}

func (f *fakeStore) Upload(ctx context.Context, localPath string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.uploads = append(f.uploads, localPath)
	return fmt.Sprintf("objects/final-%d.wav", len(f.uploads)), nil
}

func (f *fakeStore) Download(ctx context.Context, ref, localPath string) error {
	return errors.New("not used")
}

func (f *fakeStore) Metadata(ctx context.Context, ref string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errors.New("not used")
}

type fakeInvoker struct {
	calls  []audioproc.InvokeRequest
	invoke func(req audioproc.InvokeRequest) (*audioproc.InvokeResponse, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, service string, req audioproc.InvokeRequest) (*audioproc.InvokeResponse, error) {
	f.calls = append(f.calls, req)
	return f.invoke(req)
}

func enhanceResponse(req audioproc.InvokeRequest) (*audioproc.InvokeResponse, error) {
	path := filepath.Join(req.OutputDir, "enhanced.wav")
	if err := os.WriteFile(path, []byte("enhanced"), 0o644); err != nil {
		return nil, err
	}
	return &audioproc.InvokeResponse{OutputPaths: map[string]string{"enhanced": path}}, nil
}

func noopReport(ctx context.Context, current, total int, message string) error { return nil }

func enhancementInput(t *testing.T) stage.Input {
	t.Helper()
	scratch := t.TempDir()
	fusionDir := filepath.Join(scratch, "fusion")
	if err := os.MkdirAll(fusionDir, 0o755); err != nil {
		t.Fatal(err)
	}
	fusedPath := filepath.Join(fusionDir, "fusion.wav")
	if err := os.WriteFile(fusedPath, []byte("fused"), 0o644); err != nil {
		t.Fatal(err)
	}
	return stage.Input{
		JobID:      "job-1",
		ScratchDir: scratch,
		Prior: map[string]stage.Result{
			jobs.StageFusion: {
				Stage:         jobs.StageFusion,
				ArtifactPaths: map[string]string{"fusion": fusedPath},
			},
		},
	}
}

func TestExecuteEnhancesAndUploads(t *testing.T) {
	store := &fakeStore{}
	invoker := &fakeInvoker{invoke: enhanceResponse}
	handler := New(store, invoker, logging.NewNop())

	result, err := handler.Execute(context.Background(), enhancementInput(t), noopReport)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	meta := result.Metadata.Enhancement
	if meta == nil {
		t.Fatal("enhancement metadata missing")
	}
	if meta.StorageRef != "objects/final-1.wav" {
		t.Fatalf("storage ref = %q", meta.StorageRef)
	}
	if meta.CompressThreshold != 0.5 || meta.CompressRatio != 4.0 || meta.EQ != "bass_boost" {
		t.Fatalf("chain parameters = %+v", meta)
	}
	if !meta.Normalized || !meta.Limiter {
		t.Fatalf("chain flags = %+v", meta)
	}

	params := invoker.calls[0].Parameters
	if params["compress_threshold"] != "0.5" || params["compress_ratio"] != "4" {
		t.Fatalf("enhancer parameters = %v", params)
	}
	if len(store.uploads) != 1 {
		t.Fatalf("uploads = %v", store.uploads)
	}
}

func TestExecuteRequiresFusionArtifact(t *testing.T) {
	handler := New(&fakeStore{}, &fakeInvoker{invoke: enhanceResponse}, logging.NewNop())
	_, err := handler.Execute(context.Background(), stage.Input{JobID: "job-1", ScratchDir: t.TempDir()}, noopReport)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestExecuteFusedFileMustExist(t *testing.T) {
	in := enhancementInput(t)
	prior := in.Prior[jobs.StageFusion]
	prior.ArtifactPaths = map[string]string{"fusion": filepath.Join(in.ScratchDir, "fusion", "vanished.wav")}
	in.Prior[jobs.StageFusion] = prior

	handler := New(&fakeStore{}, &fakeInvoker{invoke: enhanceResponse}, logging.NewNop())
	_, err := handler.Execute(context.Background(), in, noopReport)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestExecuteUploadFailurePropagates(t *testing.T) {
	store := &fakeStore{fail: services.Wrap(services.ErrUnavailable, jobs.StageEnhancement, "upload", "object store down", nil)}
	handler := New(store, &fakeInvoker{invoke: enhanceResponse}, logging.NewNop())

	_, err := handler.Execute(context.Background(), enhancementInput(t), noopReport)
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	handler := New(store, &fakeInvoker{invoke: enhanceResponse}, logging.NewNop())
	in := enhancementInput(t)

	first, err := handler.Execute(context.Background(), in, noopReport)
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	second, err := handler.Execute(context.Background(), in, noopReport)
	if err != nil {
		t.Fatalf("redelivered Execute: %v", err)
	}
	if first.ArtifactPaths["enhanced"] != second.ArtifactPaths["enhanced"] {
		t.Fatalf("enhanced path moved between runs")
	}
}
