package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"stemfuse/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.ScratchRoot = filepath.Join(base, "scratch")
	cfg.DataDir = filepath.Join(base, "data")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.ObjectStoreDir = filepath.Join(base, "objects")

	store, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestJob(t *testing.T, store *Store) *Job {
	t.Helper()
	job, err := store.Create(context.Background(), Owners{
		ProjectID: 7,
		OwnerID:   3,
		Track1Ref: "objects/track1.wav",
		Track2Ref: "objects/track2.wav",
	}, GenerationParams{DurationSeconds: 15, Temperature: 1.0, GuidanceScale: 3.0})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store)

	if job.State != StatePending {
		t.Fatalf("new job state = %q, want pending", job.State)
	}
	if job.CurrentStageIndex != 0 {
		t.Fatalf("new job stage index = %d", job.CurrentStageIndex)
	}
	if got := job.CurrentStage(); got != StageSeparation {
		t.Fatalf("current stage = %q, want separation", got)
	}
	if len(job.StageSequence) != 4 {
		t.Fatalf("stage sequence = %v", job.StageSequence)
	}

	loaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if loaded == nil || loaded.Owners.Track2Ref != "objects/track2.wav" {
		t.Fatalf("loaded job mismatch: %+v", loaded)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	job, err := store.GetByID(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %+v", job)
	}
}

func TestMarkRunningResetsProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, store)

	if err := store.MarkRunning(ctx, job.ID, 0, "Separation started"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := store.SetProgress(ctx, job.ID, 2, 4, "Separating stems"); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.State != StateRunning || loaded.Progress.Current != 2 {
		t.Fatalf("unexpected job: state=%q progress=%+v", loaded.State, loaded.Progress)
	}

	// Re-entry resets progress to zero.
	if err := store.MarkRunning(ctx, job.ID, 0, "Separation started"); err != nil {
		t.Fatalf("MarkRunning re-entry: %v", err)
	}
	loaded, _ = store.GetByID(ctx, job.ID)
	if loaded.Progress.Current != 0 || loaded.Progress.Total != 0 {
		t.Fatalf("progress not reset: %+v", loaded.Progress)
	}
}

func TestMarkRunningStageMismatch(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store)

	err := store.MarkRunning(context.Background(), job.ID, 2, "Fusion started")
	if !errors.Is(err, ErrStageMismatch) {
		t.Fatalf("expected ErrStageMismatch, got %v", err)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, store)

	if err := store.MarkRunning(ctx, job.ID, 0, "Separation started"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := store.SetProgress(ctx, job.ID, 3, 4, "Separating stems for track 2"); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if err := store.SetProgress(ctx, job.ID, 1, 4, "stale update"); err != nil {
		t.Fatalf("SetProgress lower: %v", err)
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.Progress.Current != 3 {
		t.Fatalf("progress regressed: %+v", loaded.Progress)
	}
	if loaded.Progress.Message == "stale update" {
		t.Fatalf("stale message applied: %+v", loaded.Progress)
	}
}

func TestAdvanceStageCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, store)

	if err := store.MarkRunning(ctx, job.ID, 0, "Separation started"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	advanced, err := store.AdvanceStage(ctx, job.ID, 0)
	if err != nil || !advanced {
		t.Fatalf("AdvanceStage: advanced=%v err=%v", advanced, err)
	}

	// Duplicate delivery tries the same transition again.
	advanced, err = store.AdvanceStage(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("AdvanceStage duplicate: %v", err)
	}
	if advanced {
		t.Fatal("duplicate advance should not apply")
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.CurrentStageIndex != 1 {
		t.Fatalf("stage index = %d, want 1", loaded.CurrentStageIndex)
	}
	if loaded.Progress.Current != 0 || loaded.Progress.Total != 0 {
		t.Fatalf("progress not reset on stage entry: %+v", loaded.Progress)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, store)

	if err := store.MarkRunning(ctx, job.ID, 0, "Separation started"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := store.MarkFailed(ctx, job.ID, "unsupported codec"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	// Idempotent re-fail is tolerated.
	if err := store.MarkFailed(ctx, job.ID, "other reason"); err != nil {
		t.Fatalf("MarkFailed repeat: %v", err)
	}
	// No resurrection.
	if err := store.MarkRunning(ctx, job.ID, 0, "again"); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState from MarkRunning, got %v", err)
	}
	if err := store.MarkSucceeded(ctx, job.ID, "ref", json.RawMessage(`{}`)); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState from MarkSucceeded, got %v", err)
	}
	if err := store.SetProgress(ctx, job.ID, 1, 4, "late write"); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState from SetProgress, got %v", err)
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.State != StateFailed || loaded.ErrorReason != "unsupported codec" {
		t.Fatalf("terminal record mutated: %+v", loaded)
	}
	if loaded.TerminalAt == nil {
		t.Fatal("terminal_at not set")
	}
}

func TestMarkSucceededPersistsSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, store)

	if err := store.MarkRunning(ctx, job.ID, 0, "Separation started"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	summary := json.RawMessage(`{"processing_time_seconds":12.5}`)
	if err := store.MarkSucceeded(ctx, job.ID, "objects/final.wav", summary); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.State != StateSucceeded || loaded.ResultRef != "objects/final.wav" {
		t.Fatalf("unexpected terminal record: %+v", loaded)
	}
	var decoded map[string]float64
	if err := json.Unmarshal(loaded.Summary, &decoded); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if decoded["processing_time_seconds"] != 12.5 {
		t.Fatalf("summary mismatch: %v", decoded)
	}

	// The terminal write is a CAS: a racing second success loses and must not
	// overwrite the first summary.
	if err := store.MarkSucceeded(ctx, job.ID, "objects/other.wav", json.RawMessage(`{}`)); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState from repeat MarkSucceeded, got %v", err)
	}
	loaded, _ = store.GetByID(ctx, job.ID)
	if loaded.ResultRef != "objects/final.wav" {
		t.Fatalf("result ref overwritten: %q", loaded.ResultRef)
	}
}

func TestRecordStageResultAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, store)

	if err := store.RecordStageResult(ctx, job.ID, StageSeparation, json.RawMessage(`{"stems":8}`)); err != nil {
		t.Fatalf("RecordStageResult: %v", err)
	}
	if err := store.RecordStageResult(ctx, job.ID, StageExtraction, json.RawMessage(`{"tempo":120}`)); err != nil {
		t.Fatalf("RecordStageResult: %v", err)
	}

	loaded, _ := store.GetByID(ctx, job.ID)
	if len(loaded.StageResults) != 2 {
		t.Fatalf("stage results = %v", loaded.StageResults)
	}
	if string(loaded.StageResults[StageSeparation]) != `{"stems":8}` {
		t.Fatalf("separation result = %s", loaded.StageResults[StageSeparation])
	}
}

func TestListAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := createTestJob(t, store)
	second := createTestJob(t, store)
	if err := store.MarkRunning(ctx, second.ID, 0, "Separation started"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := store.MarkFailed(ctx, second.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	listed, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d jobs", len(listed))
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Total != 2 || counts.Pending != 1 || counts.Failed != 1 {
		t.Fatalf("counts = %+v", counts)
	}
	_ = first
}
