package pipeline

import (
	"path/filepath"
	"strings"

	"chunkwise/internal/config"
	"chunkwise/internal/resume"
	"chunkwise/internal/services"
)

// Job names the input and output of one run. It is resolved once and then
// treated as immutable.
type Job struct {
	Input  string
	Output string
	// TempDir overrides the derived temp directory when set.
	TempDir string
}

// Resolve returns the job with absolute paths and a temp directory.
func (j Job) Resolve(cfg *config.Config) (Job, error) {
	input := strings.TrimSpace(j.Input)
	output := strings.TrimSpace(j.Output)
	if input == "" || output == "" {
		return Job{}, services.Wrap(services.ErrValidation, "pipeline", "resolve job", "input and output are required", nil)
	}
	var err error
	if j.Input, err = filepath.Abs(input); err != nil {
		return Job{}, services.Wrap(services.ErrValidation, "pipeline", "resolve job", "input path", err)
	}
	if j.Output, err = filepath.Abs(output); err != nil {
		return Job{}, services.Wrap(services.ErrValidation, "pipeline", "resolve job", "output path", err)
	}
	j.TempDir = TempDir(cfg, j.Input, j.Output, j.TempDir)
	return j, nil
}

// TempDir picks the temp directory for a job: the override when given,
// otherwise the derived per-input name, placed under paths.temp_dir when
// that is configured and beside the output when it is not.
func TempDir(cfg *config.Config, input, output, override string) string {
	if override = strings.TrimSpace(override); override != "" {
		if abs, err := filepath.Abs(override); err == nil {
			return abs
		}
		return override
	}
	derived := resume.DefaultTempDir(input, output)
	if cfg != nil && cfg.Paths.TempDir != "" {
		return filepath.Join(cfg.Paths.TempDir, filepath.Base(derived))
	}
	return derived
}
