package preflight

import (
	"context"

	"sfcfetch/internal/config"
	"sfcfetch/internal/stage"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every check that applies to the given config. A nil store
// or registry skips the checks that need it.
func RunAll(ctx context.Context, cfg *config.Config, st *store.Store, registry *stage.Registry) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Lock directory", cfg.LockDir()),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Paths.APIBind != "" {
		results = append(results, CheckBindAddress(cfg.Paths.APIBind))
	}
	if st != nil {
		results = append(results, CheckDatabase(ctx, st))
	}
	results = append(results, CheckConditions(subworkflow.Builtin()...)...)
	if registry != nil {
		results = append(results, CheckHandlers(registry, subworkflow.Builtin()...)...)
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
