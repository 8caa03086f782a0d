package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chunkwise/internal/config"
	"chunkwise/internal/pipeline"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// tempDirFlags selects a temp directory either directly or through the job
// it belongs to.
type tempDirFlags struct {
	temp   string
	input  string
	output string
}

func (f *tempDirFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.temp, "temp", "", "Temp directory of the run")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "Input of the run (with --output)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output of the run (with --input)")
}

func (f *tempDirFlags) resolve(cfg *config.Config) (string, error) {
	if temp := strings.TrimSpace(f.temp); temp != "" {
		abs, err := filepath.Abs(temp)
		if err != nil {
			return "", fmt.Errorf("resolve temp directory: %w", err)
		}
		return abs, nil
	}
	if strings.TrimSpace(f.input) == "" || strings.TrimSpace(f.output) == "" {
		return "", fmt.Errorf("pass --temp, or both --input and --output")
	}
	job, err := pipeline.Job{Input: f.input, Output: f.output}.Resolve(cfg)
	if err != nil {
		return "", err
	}
	return job.TempDir, nil
}

// artifactPath resolves a path recorded in the run state.
func artifactPath(dir, recorded string) string {
	if recorded == "" || filepath.IsAbs(recorded) {
		return recorded
	}
	return filepath.Join(dir, filepath.FromSlash(recorded))
}

func fileSize(path string) (int64, bool) {
	if path == "" {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

func formatBytes(size int64) string {
	if size <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(size))
}
