package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
	raw     []byte
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	CodecTag     string `json:"codec_tag_string"`
	Duration     string `json:"duration"`
	BitRate      string `json:"bit_rate"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PixFmt       string `json:"pix_fmt"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = defaultBinary(binary)
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := commandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe inspect: %w%s", err, stderrSuffix(err))
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	result.raw = append([]byte(nil), output...)
	return result, nil
}

// CountFrames decodes the packet index of the first video stream and returns
// its packet count. It is slower than Inspect and only needed when the
// container does not record a frame total.
func CountFrames(ctx context.Context, binary string, path string) (int, error) {
	binary = defaultBinary(binary)
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("ffprobe count: empty path")
	}
	cmd := commandContext(ctx, binary, "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "csv=p=0", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe count: %w%s", err, stderrSuffix(err))
	}
	value := strings.TrimSpace(strings.Split(strings.TrimSpace(string(output)), "\n")[0])
	value = strings.TrimSuffix(value, ",")
	count, err := strconv.Atoi(value)
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("ffprobe count: unexpected packet count %q", value)
	}
	return count, nil
}

// RawJSON returns the raw ffprobe JSON payload.
func (r Result) RawJSON() []byte {
	return append([]byte(nil), r.raw...)
}

// VideoStream returns the first video stream.
func (r Result) VideoStream() (Stream, bool) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			return stream, true
		}
	}
	return Stream{}, false
}

// VideoStreamCount returns the number of video streams discovered.
func (r Result) VideoStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			count++
		}
	}
	return count
}

// AudioStreams returns the audio streams in container order.
func (r Result) AudioStreams() []Stream {
	var out []Stream
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			out = append(out, stream)
		}
	}
	return out
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	return len(r.AudioStreams())
}

// HasAudio reports whether the container has at least one audio stream.
func (r Result) HasAudio() bool {
	return r.AudioStreamCount() > 0
}

// VideoSize returns the width and height of the first video stream.
func (r Result) VideoSize() (int, int) {
	stream, ok := r.VideoStream()
	if !ok {
		return 0, 0
	}
	return stream.Width, stream.Height
}

// FrameRate returns the average frame rate of the first video stream as a
// rational, falling back to r_frame_rate.
func (r Result) FrameRate() (num, den int, ok bool) {
	stream, found := r.VideoStream()
	if !found {
		return 0, 0, false
	}
	if num, den, ok = ParseRational(stream.AvgFrameRate); ok {
		return num, den, true
	}
	return ParseRational(stream.RFrameRate)
}

// ConstantFrameRate reports whether the first video stream's average and base
// frame rates agree.
func (r Result) ConstantFrameRate() bool {
	stream, ok := r.VideoStream()
	if !ok {
		return false
	}
	avgNum, avgDen, ok := ParseRational(stream.AvgFrameRate)
	if !ok {
		return false
	}
	baseNum, baseDen, ok := ParseRational(stream.RFrameRate)
	if !ok {
		return false
	}
	return int64(avgNum)*int64(baseDen) == int64(baseNum)*int64(avgDen)
}

// FPS returns the frame rate as a float, or 0 when unknown.
func (r Result) FPS() float64 {
	num, den, ok := r.FrameRate()
	if !ok {
		return 0
	}
	return float64(num) / float64(den)
}

// FrameCount returns the number of frames in the first video stream. It uses
// nb_frames when present and otherwise estimates from duration and frame
// rate. Zero means the count is unknown.
func (r Result) FrameCount() int {
	stream, ok := r.VideoStream()
	if !ok {
		return 0
	}
	if n, err := strconv.Atoi(strings.TrimSpace(stream.NbFrames)); err == nil && n > 0 {
		return n
	}
	duration := parseFloat(stream.Duration)
	if math.IsNaN(duration) || duration <= 0 {
		duration = r.DurationSeconds()
	}
	fps := r.FPS()
	if math.IsNaN(duration) || duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Round(duration * fps))
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r Result) DurationSeconds() float64 {
	return parseFloat(r.Format.Duration)
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable.
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if math.IsNaN(size) || size < 0 {
		return 0
	}
	return int64(size)
}

// BitRate returns the container bitrate in bits per second, or 0 when unavailable.
func (r Result) BitRate() int64 {
	rate := parseFloat(r.Format.BitRate)
	if math.IsNaN(rate) || rate < 0 {
		return 0
	}
	return int64(rate)
}

// ParseRational parses "num/den" (or a bare integer) with positive parts.
func ParseRational(value string) (num, den int, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, false
	}
	numStr, denStr, found := strings.Cut(value, "/")
	if !found {
		denStr = "1"
	}
	n, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil || n <= 0 {
		return 0, 0, false
	}
	d, err := strconv.Atoi(strings.TrimSpace(denStr))
	if err != nil || d <= 0 {
		return 0, 0, false
	}
	return n, d, true
}

func defaultBinary(binary string) string {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "ffprobe"
	}
	return binary
}

func stderrSuffix(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(string(exitErr.Stderr)); msg != "" {
			return ": " + msg
		}
	}
	return ""
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
