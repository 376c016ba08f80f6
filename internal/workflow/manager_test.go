package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"stemfuse/internal/config"
	"stemfuse/internal/dispatch"
	"stemfuse/internal/jobs"
	"stemfuse/internal/services"
	"stemfuse/internal/stage"
)

func TestChainRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	job := h.enqueue(t)
	final := h.waitTerminal(t, job.ID, 10*time.Second)

	if final.State != jobs.StateSucceeded {
		t.Fatalf("state = %s, error = %s", final.State, final.ErrorReason)
	}
	if final.ResultRef != "objects/final.wav" {
		t.Fatalf("result ref = %q", final.ResultRef)
	}
	// The index clamps at the last stage; it never walks past the sequence.
	if want := len(final.StageSequence) - 1; final.CurrentStageIndex != want {
		t.Fatalf("stage index = %d, want %d", final.CurrentStageIndex, want)
	}
	if got := final.StatusSnapshot(); got.Stage != jobs.StageEnhancement {
		t.Fatalf("status stage = %q, want %q", got.Stage, jobs.StageEnhancement)
	}

	for _, name := range jobs.DefaultStageSequence() {
		if got := h.handlers[name].callCount(); got != 1 {
			t.Errorf("%s executed %d times, want 1", name, got)
		}
		if _, ok := final.StageResults[name]; !ok {
			t.Errorf("%s result not recorded", name)
		}
	}

	var summary Summary
	if err := json.Unmarshal(final.Summary, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.ArtifactRef != "objects/final.wav" || summary.Features == nil || summary.Enhancement == nil {
		t.Fatalf("summary = %+v", summary)
	}

	if _, err := os.Stat(h.scratch.Path(job.ID)); !os.IsNotExist(err) {
		t.Errorf("scratch directory not released: %v", err)
	}
	if len(h.notifier.succeeded) != 1 {
		t.Errorf("success notifications = %v", h.notifier.succeeded)
	}
}

func TestFatalStageFailureStopsChain(t *testing.T) {
	h := newHarness(t)
	h.handlers[jobs.StageExtraction].fn = func(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
		return nil, services.Wrap(services.ErrService, jobs.StageExtraction, "analyze", "unsupported codec", nil)
	}
	h.start(t)

	job := h.enqueue(t)
	final := h.waitTerminal(t, job.ID, 10*time.Second)

	if final.State != jobs.StateFailed {
		t.Fatalf("state = %s", final.State)
	}
	if final.ErrorReason == "" {
		t.Fatal("error reason not recorded")
	}
	// The index freezes at the failing stage and nothing downstream runs.
	if final.CurrentStageIndex != 1 {
		t.Fatalf("stage index = %d, want 1", final.CurrentStageIndex)
	}
	if got := h.handlers[jobs.StageFusion].callCount(); got != 0 {
		t.Fatalf("fusion executed %d times after failure", got)
	}
	if _, err := os.Stat(h.scratch.Path(job.ID)); !os.IsNotExist(err) {
		t.Errorf("scratch directory not released after failure: %v", err)
	}
	if len(h.notifier.failed) != 1 {
		t.Errorf("failure notifications = %v", h.notifier.failed)
	}
}

func TestRetryableFailureIsRedelivered(t *testing.T) {
	h := newHarness(t)
	attempts := 0
	h.handlers[jobs.StageSeparation].fn = func(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
		attempts++
		if attempts == 1 {
			return nil, services.Wrap(services.ErrUnavailable, jobs.StageSeparation, "invoke", "separator down", nil)
		}
		return okResult(jobs.StageSeparation, in), nil
	}
	h.start(t)

	job := h.enqueue(t)
	final := h.waitTerminal(t, job.ID, 10*time.Second)

	if final.State != jobs.StateSucceeded {
		t.Fatalf("state = %s, error = %s", final.State, final.ErrorReason)
	}
	if got := h.handlers[jobs.StageSeparation].callCount(); got != 2 {
		t.Fatalf("separation executed %d times, want 2", got)
	}
}

func TestExhaustedDeliveriesFailTheJob(t *testing.T) {
	h := newHarness(t)
	h.handlers[jobs.StageSeparation].fn = func(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
		return nil, services.Wrap(services.ErrUnavailable, jobs.StageSeparation, "invoke", "separator down", nil)
	}
	h.start(t)

	job := h.enqueue(t)
	final := h.waitTerminal(t, job.ID, 10*time.Second)

	if final.State != jobs.StateFailed {
		t.Fatalf("state = %s", final.State)
	}
	if final.ErrorReason != services.ReasonExhaustedRetries {
		t.Fatalf("error reason = %q, want %q", final.ErrorReason, services.ReasonExhaustedRetries)
	}
	if got := h.handlers[jobs.StageSeparation].callCount(); got != h.cfg.Workflow.MaxDeliveries {
		t.Fatalf("separation executed %d times, want %d", got, h.cfg.Workflow.MaxDeliveries)
	}

	dead, err := h.queue.DeadLetters(context.Background(), 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].JobID != job.ID {
		t.Fatalf("dead letters = %+v", dead)
	}
}

func TestScratchFailureIsRetriedNotFatal(t *testing.T) {
	h := newHarness(t)
	// Replace the scratch root with a regular file so every allocation fails
	// with a filesystem error, which must count against the delivery budget
	// instead of failing the job outright.
	if err := os.RemoveAll(h.cfg.ScratchRoot); err != nil {
		t.Fatalf("remove scratch root: %v", err)
	}
	if err := os.WriteFile(h.cfg.ScratchRoot, nil, 0o644); err != nil {
		t.Fatalf("block scratch root: %v", err)
	}
	h.start(t)

	job := h.enqueue(t)
	final := h.waitTerminal(t, job.ID, 10*time.Second)

	if final.State != jobs.StateFailed {
		t.Fatalf("state = %s", final.State)
	}
	if final.ErrorReason != services.ReasonExhaustedRetries {
		t.Fatalf("error reason = %q, want %q", final.ErrorReason, services.ReasonExhaustedRetries)
	}
	if got := h.handlers[jobs.StageSeparation].callCount(); got != 0 {
		t.Fatalf("separation executed %d times without scratch", got)
	}

	dead, err := h.queue.DeadLetters(context.Background(), 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].JobID != job.ID {
		t.Fatalf("dead letters = %+v", dead)
	}
}

func TestSoftTimeLimitFailsWithTimedOut(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Stages.Separation.SoftLimitSeconds = 1
	})
	h.handlers[jobs.StageSeparation].fn = func(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h.start(t)

	job := h.enqueue(t)
	final := h.waitTerminal(t, job.ID, 10*time.Second)

	if final.State != jobs.StateFailed {
		t.Fatalf("state = %s", final.State)
	}
	if final.ErrorReason != services.ReasonTimedOut {
		t.Fatalf("error reason = %q, want %q", final.ErrorReason, services.ReasonTimedOut)
	}
	reasons := h.notifier.failureReasons()
	if len(reasons) != 1 || reasons[0] != services.ReasonTimedOut {
		t.Fatalf("notified reasons = %v", reasons)
	}
}

func TestDuplicateDeliveryDoesNotRerunCompletedStage(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	job := h.enqueue(t)
	final := h.waitTerminal(t, job.ID, 10*time.Second)
	if final.State != jobs.StateSucceeded {
		t.Fatalf("state = %s", final.State)
	}

	// A late redelivery of the first stage must be dropped, not re-executed.
	if err := h.queue.Submit(context.Background(), dispatch.Task{JobID: job.ID, Stage: jobs.StageSeparation}); err != nil {
		t.Fatalf("Submit duplicate: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	if got := h.handlers[jobs.StageSeparation].callCount(); got != 1 {
		t.Fatalf("separation executed %d times after duplicate delivery", got)
	}
	after, err := h.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.State != jobs.StateSucceeded {
		t.Fatalf("terminal state changed to %s", after.State)
	}
}

func TestEnqueueValidatesTrackRefs(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.Enqueue(context.Background(), jobs.Owners{Track1Ref: "objects/t1.wav"}, jobs.GenerationParams{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestStatusReportsProgress(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t)

	status, err := h.manager.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != jobs.StatePending || status.Stage != jobs.StageSeparation {
		t.Fatalf("status = %+v", status)
	}

	if _, err := h.manager.Status(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing job err = %v, want ErrNotFound", err)
	}
}
