package testsupport

import (
	"context"
	"testing"

	"stemfuse/internal/config"
	"stemfuse/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a pending fusion job for tests using the provided store.
func NewJob(t testing.TB, store *jobs.Store, track1Ref, track2Ref string) *jobs.Job {
	t.Helper()

	job, err := store.Create(context.Background(), jobs.Owners{
		ProjectID: 1,
		OwnerID:   1,
		Track1Ref: track1Ref,
		Track2Ref: track2Ref,
	}, jobs.GenerationParams{})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
