package detect

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"chunkwise/internal/services"
	"chunkwise/internal/textutil"
)

// KeyframeDetector proposes boundaries at the source's existing keyframes,
// so chunk starts line up with the input GOP structure.
type KeyframeDetector struct {
	FFprobe string
}

// Boundaries returns the frame indices of key frames. A source that reports
// none yields [0], which segments to a single chunk.
func (d *KeyframeDetector) Boundaries(ctx context.Context, inputPath string) ([]int, error) {
	inputPath = strings.TrimSpace(inputPath)
	if inputPath == "" {
		return nil, services.Wrap(services.ErrValidation, "detect", "keyframe", "input path is empty", nil)
	}
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "frame=key_frame",
		"-of", "csv=p=0",
		"--", inputPath,
	}
	cmd := commandContext(ctx, binaryOr(d.FFprobe, "ffprobe"), args...) //nolint:gosec
	stderr := textutil.NewTailBuffer(stderrLimit)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "keyframe", "open ffprobe stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "keyframe", "start ffprobe", err)
	}
	frames, parseErr := parseKeyframes(stdout)
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "keyframe",
			fmt.Sprintf("ffprobe keyframe scan failed: %s", stderr.LastLines(3)), waitErr)
	}
	if parseErr != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "keyframe", "read ffprobe output", parseErr)
	}
	if len(frames) == 0 {
		return []int{0}, nil
	}
	return frames, nil
}

// parseKeyframes reads one "key_frame[,side data...]" row per decoded frame.
func parseKeyframes(r io.Reader) ([]int, error) {
	scanner := bufio.NewScanner(r)
	var (
		frames []int
		index  int
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		flag, _, _ := strings.Cut(line, ",")
		if strings.TrimSpace(flag) == "1" {
			frames = append(frames, index)
		}
		index++
	}
	return frames, scanner.Err()
}
