package testsupport

import (
	"path/filepath"
	"testing"

	"stemfuse/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.ScratchRoot = filepath.Join(base, "scratch")
	cfg.DataDir = filepath.Join(base, "data")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.ObjectStoreDir = filepath.Join(base, "objects")
	cfg.MetricsBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithMaxDeliveries overrides the task delivery budget on the test config.
func WithMaxDeliveries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.MaxDeliveries = n
	}
}

// WithStageWorkers sets the worker count for every stage on the test config.
func WithStageWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Stages.Separation.Workers = n
		cfg.Stages.Extraction.Workers = n
		cfg.Stages.Fusion.Workers = n
		cfg.Stages.Enhancement.Workers = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.ScratchRoot)
}
