package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"chunkwise/internal/config"
)

// Requirement defines an external dependency chunkwise relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries a run with cfg will execute. mkvmerge is
// only required when it is the selected concat method.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	reqs := []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for frame extraction, scene detection, audio, and concat",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for media inspection",
		},
		{
			Name:        "Encoder",
			Command:     cfg.EncoderBinary(),
			Description: fmt.Sprintf("Required to encode chunks with %s", cfg.Encoder.Name),
		},
	}
	mkvmerge := Requirement{
		Name:        "mkvmerge",
		Command:     cfg.MkvmergeBinary(),
		Description: "Joins chunks when concat.method is mkvmerge",
		Optional:    true,
	}
	if cfg.Concat.Method == config.ConcatMkvmerge {
		mkvmerge.Optional = false
	}
	return append(reqs, mkvmerge)
}

// Missing returns the statuses of required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
