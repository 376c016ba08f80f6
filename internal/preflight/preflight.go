package preflight

import (
	"context"

	"stemfuse/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is satisfied by the broker-backed dispatch queue.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes every applicable check for the given config. The broker
// check is skipped when pinger is nil, which lets callers without a broker
// connection still validate directories and service endpoints.
func RunAll(ctx context.Context, cfg *config.Config, pinger Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Scratch root", cfg.ScratchRoot),
		CheckDirectoryAccess("Object store", cfg.ObjectStoreDir),
		CheckDirectoryAccess("Data directory", cfg.DataDir),
	}

	if pinger != nil {
		results = append(results, CheckBroker(ctx, pinger))
	}

	for _, svc := range []struct {
		name string
		url  string
	}{
		{"Separator service", cfg.Processing.SeparatorURL},
		{"Analyzer service", cfg.Processing.AnalyzerURL},
		{"Generator service", cfg.Processing.GeneratorURL},
		{"Enhancer service", cfg.Processing.EnhancerURL},
	} {
		results = append(results, CheckService(ctx, svc.name, svc.url))
	}

	return results
}

// Healthy reports whether every result passed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
