package preflight

import (
	"fmt"
	"strings"

	"chunkwise/internal/config"
	"chunkwise/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Targets names the paths a run reads and writes.
type Targets struct {
	Input   string
	Output  string
	TempDir string
}

// RunAll executes every preflight check for a run with cfg against targets.
func RunAll(cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckInput(targets.Input))
	results = append(results, CheckOutput(targets.Input, targets.Output))
	results = append(results, CheckDirectory("Temp directory", targets.TempDir))

	for _, status := range CheckSystemDeps(cfg) {
		if status.Optional {
			continue
		}
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	return results
}

// Err folds failed results into a single configuration error, or nil when
// every check passed.
func Err(results []Result) error {
	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "check",
		strings.Join(failed, "; "), nil)
}
