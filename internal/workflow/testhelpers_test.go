package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"stemfuse/internal/config"
	"stemfuse/internal/dispatch"
	"stemfuse/internal/jobs"
	"stemfuse/internal/logging"
	"stemfuse/internal/scratch"
	"stemfuse/internal/stage"
	"stemfuse/internal/testsupport"
)

// fakeHandler implements stage.Handler with a pluggable execute function.
type fakeHandler struct {
	name string
	fn   func(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeHandler) Name() string { return f.name }

func (f *fakeHandler) Execute(ctx context.Context, in stage.Input, report stage.Reporter) (*stage.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, in, report)
	}
	return okResult(f.name, in), nil
}

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okResult(name string, in stage.Input) *stage.Result {
	result := &stage.Result{Stage: name, SourceJobID: in.JobID}
	switch name {
	case jobs.StageExtraction:
		result.Metadata.Extraction = &stage.ExtractionMetadata{
			Tracks: map[string]stage.TrackFeatures{
				"track1": {Tempo: 120, Energy: 0.7},
				"track2": {Tempo: 100, Danceability: 0.6},
			},
		}
	case jobs.StageFusion:
		result.Metadata.Fusion = &stage.FusionMetadata{Prompt: "test prompt", DurationSeconds: 15}
	case jobs.StageEnhancement:
		result.Metadata.Enhancement = &stage.EnhancementMetadata{
			Normalized: true,
			StorageRef: "objects/final.wav",
		}
	}
	return result
}

type recordingNotifier struct {
	mu        sync.Mutex
	succeeded []string
	failed    []string
	reasons   []string
}

func (n *recordingNotifier) NotifyJobSucceeded(ctx context.Context, jobID, resultRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.succeeded = append(n.succeeded, jobID)
	return nil
}

func (n *recordingNotifier) NotifyJobFailed(ctx context.Context, jobID, stageName, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, jobID)
	n.reasons = append(n.reasons, reason)
	return nil
}

func (n *recordingNotifier) TestNotification(ctx context.Context) error { return nil }

func (n *recordingNotifier) failureReasons() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.reasons...)
}

type harness struct {
	cfg      *config.Config
	store    *jobs.Store
	queue    *dispatch.Memory
	scratch  *scratch.Manager
	notifier *recordingNotifier
	manager  *Manager
	handlers map[string]*fakeHandler
}

// newHarness assembles a manager over the in-process broker with one fake
// handler per stage. Handlers run the happy path unless overridden.
func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()

	opts = append([]testsupport.ConfigOption{
		testsupport.WithStageWorkers(1),
		func(cfg *config.Config) {
			cfg.Workflow.ClaimWaitSeconds = 1
			cfg.Workflow.HeartbeatInterval = 1
			cfg.Workflow.ReclaimIntervalSeconds = 1
		},
	}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)

	queue := dispatch.NewMemory(cfg.Workflow.MaxDeliveries)
	scratchMgr, err := scratch.NewManager(cfg.ScratchRoot)
	if err != nil {
		t.Fatalf("scratch.NewManager: %v", err)
	}

	notifier := &recordingNotifier{}
	manager := NewManager(cfg, store, queue, scratchMgr, notifier, logging.NewNop())

	handlers := make(map[string]*fakeHandler, 4)
	for _, name := range jobs.DefaultStageSequence() {
		handler := &fakeHandler{name: name}
		handlers[name] = handler
		if err := manager.Register(handler); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	return &harness{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		scratch:  scratchMgr,
		notifier: notifier,
		manager:  manager,
		handlers: handlers,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("manager.Start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) enqueue(t *testing.T) *jobs.Job {
	t.Helper()
	job, err := h.manager.Enqueue(context.Background(), jobs.Owners{
		ProjectID: 1,
		OwnerID:   1,
		Track1Ref: "objects/t1.wav",
		Track2Ref: "objects/t2.wav",
	}, jobs.GenerationParams{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

// waitTerminal polls the tracker until the job reaches a terminal state.
func (h *harness) waitTerminal(t *testing.T, jobID string, timeout time.Duration) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := h.store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.IsTerminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state within %s", jobID, timeout)
	return nil
}
