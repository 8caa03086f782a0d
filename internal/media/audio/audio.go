package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"chunkwise/internal/config"
	"chunkwise/internal/fileutil"
	"chunkwise/internal/logging"
	"chunkwise/internal/media/ffprobe"
	"chunkwise/internal/services"
	"chunkwise/internal/textutil"
)

// FileName is the artifact name inside the temp directory.
const FileName = "audio.mkv"

const partialName = "audio.partial.mkv"

var commandContext = exec.CommandContext

// Options describes one audio pass.
type Options struct {
	FFmpeg  string
	Input   string
	Dir     string
	Mode    string
	Codec   string
	Bitrate string
	// Streams are the probed input streams; only audio entries are used.
	Streams []ffprobe.Stream
	Logger  *slog.Logger
}

// Result reports the artifact, or why none was produced.
type Result struct {
	Path    string
	Skipped bool
	Reason  string
}

// Extract runs the audio pass and returns the artifact path. The artifact is
// written under a temporary name and renamed once ffmpeg succeeds, so a
// present audio.mkv is always complete.
func Extract(ctx context.Context, opts Options) (Result, error) {
	logger := logging.NewComponentLogger(opts.Logger, "audio")
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == config.AudioNone {
		return Result{Skipped: true, Reason: "audio disabled"}, nil
	}
	tracks := audioStreams(opts.Streams)
	if len(tracks) == 0 {
		logger.Info("input has no audio streams; skipping audio pass")
		return Result{Skipped: true, Reason: "no audio streams"}, nil
	}

	partial := filepath.Join(opts.Dir, partialName)
	final := filepath.Join(opts.Dir, FileName)
	_ = os.Remove(partial)

	args := Args(opts, tracks, partial)
	ffmpeg := strings.TrimSpace(opts.FFmpeg)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	logger.Info("audio pass started",
		logging.String("mode", mode),
		logging.Int("tracks", len(tracks)),
	)
	cmd := commandContext(ctx, ffmpeg, args...)
	stderr := textutil.NewTailBuffer(16 * 1024)
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(partial)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		detail := stderr.LastLines(3)
		if detail == "" {
			detail = "ffmpeg exited without output"
		}
		return Result{}, services.Wrap(services.ErrExternalTool, "audio", "ffmpeg", detail, err)
	}
	if _, err := fileutil.NonEmptyFile(partial); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "audio", "verify", "ffmpeg produced no audio", err)
	}
	if err := os.Rename(partial, final); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "audio", "finalize", "rename audio artifact", err)
	}
	logger.Info("audio pass completed", logging.String("path", final))
	return Result{Path: final}, nil
}

// Args returns the ffmpeg arguments for the pass, writing to output.
func Args(opts Options, tracks []ffprobe.Stream, output string) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", opts.Input,
		"-map_metadata", "0",
		"-vn", "-dn",
		"-map", "0",
		"-c", "copy",
	}
	if strings.EqualFold(strings.TrimSpace(opts.Mode), config.AudioEncode) {
		args = append(args, encodeArgs(opts.Codec, opts.Bitrate, tracks)...)
	}
	return append(args, output)
}

func encodeArgs(codec, bitrate string, tracks []ffprobe.Stream) []string {
	codec = strings.TrimSpace(codec)
	if codec == "" {
		codec = "libopus"
	}
	args := []string{"-c:a", codec}
	if bitrate = strings.TrimSpace(bitrate); bitrate != "" {
		return append(args, "-b:a", bitrate)
	}
	if !isOpus(codec) {
		return args
	}
	for i, track := range tracks {
		args = append(args, fmt.Sprintf("-b:a:%d", i), fmt.Sprintf("%dk", OpusBitrate(track.Channels)))
	}
	return args
}

// OpusBitrate returns the kbps for a track with the given channel count,
// scaling 128 kbps stereo by the layout to the power 0.75. Layouts with an
// LFE channel count it as a tenth of a channel.
func OpusBitrate(channels int) int {
	layout := float64(channels)
	switch channels {
	case 3:
		layout = 2.1
	case 6:
		layout = 5.1
	case 8:
		layout = 7.1
	}
	if layout <= 0 {
		layout = 2
	}
	return int(math.Round(128 * math.Pow(layout/2, 0.75)))
}

func isOpus(codec string) bool {
	return strings.Contains(strings.ToLower(codec), "opus")
}

func audioStreams(streams []ffprobe.Stream) []ffprobe.Stream {
	out := make([]ffprobe.Stream, 0, len(streams))
	for _, s := range streams {
		if strings.EqualFold(s.CodecType, "audio") {
			out = append(out, s)
		}
	}
	return out
}
