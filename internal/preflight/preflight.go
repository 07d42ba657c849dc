package preflight

import (
	"context"
	"fmt"
	"time"

	"transcoder/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Probe checks one remote dependency.
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

const probeTimeout = 10 * time.Second

// RunAll checks the directories, encoder binaries, and every probe.
func RunAll(ctx context.Context, cfg *config.Config, probes ...Probe) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Shared directory", cfg.Paths.SharedDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
			if status.Optional {
				result.Passed = true
				result.Detail += " (optional)"
			}
		}
		results = append(results, result)
	}
	for _, probe := range probes {
		results = append(results, CheckProbe(ctx, probe))
	}
	return results
}

// CheckProbe runs one probe with a bounded timeout.
func CheckProbe(ctx context.Context, probe Probe) Result {
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := probe.Ping(checkCtx); err != nil {
		return Result{Name: probe.Name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	return Result{Name: probe.Name, Passed: true, Detail: "reachable"}
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
