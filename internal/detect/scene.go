package detect

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"chunkwise/internal/logging"
	"chunkwise/internal/services"
	"chunkwise/internal/textutil"
)

var commandContext = exec.CommandContext

const stderrLimit = 16 * 1024

// SceneDetector finds scene changes with ffmpeg's scdet filter.
type SceneDetector struct {
	FFmpeg          string
	Threshold       float64
	DownscaleHeight int
	// FPS maps scdet timestamps to frame indices when frame numbers are not
	// printed alongside them.
	FPS    float64
	Logger *slog.Logger
}

// Boundaries returns the frame indices at which a new scene starts.
func (d *SceneDetector) Boundaries(ctx context.Context, inputPath string) ([]int, error) {
	inputPath = strings.TrimSpace(inputPath)
	if inputPath == "" {
		return nil, services.Wrap(services.ErrValidation, "detect", "scene", "input path is empty", nil)
	}
	cmd := commandContext(ctx, binaryOr(d.FFmpeg, "ffmpeg"), d.args(inputPath)...) //nolint:gosec
	stderr := textutil.NewTailBuffer(stderrLimit)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "scene", "open ffmpeg stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "scene", "start ffmpeg", err)
	}
	frames, parseErr := parseSceneMetadata(stdout, d.FPS)
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "scene",
			fmt.Sprintf("ffmpeg scene detection failed: %s", stderr.LastLines(3)), waitErr)
	}
	if parseErr != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "scene", "read ffmpeg metadata", parseErr)
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Debug("scene detection complete", logging.Int("scenes", len(frames)))
	return frames, nil
}

func (d *SceneDetector) args(inputPath string) []string {
	filters := make([]string, 0, 3)
	if d.DownscaleHeight > 0 {
		filters = append(filters, fmt.Sprintf("scale=-2:%d", d.DownscaleHeight))
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = 10
	}
	filters = append(filters,
		"scdet=threshold="+strconv.FormatFloat(threshold, 'f', -1, 64),
		"metadata=mode=print:file=-",
	)
	return []string{
		"-hide_banner", "-nostats", "-nostdin",
		"-i", inputPath,
		"-map", "0:v:0", "-an", "-sn", "-dn",
		"-vf", strings.Join(filters, ","),
		"-f", "null", "-",
	}
}

// parseSceneMetadata reads metadata=print output. Each detected change is a
// "frame:N pts:... pts_time:T" header followed by lavfi.scd.* keys; the frame
// number is preferred and pts_time/lavfi.scd.time is mapped through fps.
func parseSceneMetadata(r io.Reader, fps float64) ([]int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var (
		frames    []int
		lastFrame = -1
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "frame:"):
			lastFrame = parseHeaderFrame(line)
		case strings.HasPrefix(line, "lavfi.scd.time="):
			frame := lastFrame
			if frame < 0 {
				seconds, err := strconv.ParseFloat(strings.TrimPrefix(line, "lavfi.scd.time="), 64)
				if err != nil || fps <= 0 {
					continue
				}
				frame = int(math.Round(seconds * fps))
			}
			frames = append(frames, frame)
			lastFrame = -1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	slices.Sort(frames)
	return slices.Compact(frames), nil
}

func parseHeaderFrame(line string) int {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return -1
	}
	value := strings.TrimPrefix(fields[0], "frame:")
	if value == "" && len(fields) > 1 {
		value = fields[1]
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return n
}

func binaryOr(binary, fallback string) string {
	if binary = strings.TrimSpace(binary); binary != "" {
		return binary
	}
	return fallback
}
