package source

import (
	"fmt"
	"strconv"
	"strings"

	"chunkwise/internal/segment"
)

// Source describes how to decode frames from the input.
type Source struct {
	FFmpeg string
	Input  string
	PixFmt string
	// Filters run after frame selection, in order (crop first, then user
	// filters).
	Filters []string
	// SeekFPS is the frame rate of a constant frame rate input. When set,
	// chunks far enough into the input seek there instead of decoding every
	// earlier frame, and select their first frame by timestamp.
	SeekFPS float64
}

// seekLead is how far before a chunk's first frame the input seek lands.
const seekLead = 2.0

// Binary returns the ffmpeg binary to invoke.
func (s Source) Binary() string {
	if b := strings.TrimSpace(s.FFmpeg); b != "" {
		return b
	}
	return "ffmpeg"
}

// SeekPoint returns the input seek position in seconds for r, or false when
// the range is decoded from the start of the input.
func (s Source) SeekPoint(r segment.Range) (float64, bool) {
	if s.SeekFPS <= 0 {
		return 0, false
	}
	at := float64(r.Start)/s.SeekFPS - seekLead
	return at, at > 0
}

// FilterGraph returns the -vf value selecting frames [r.Start, r.End). A
// seeking range is cut at its first frame's timestamp; -frames:v bounds the
// end.
func (s Source) FilterGraph(r segment.Range) string {
	selectFrames := fmt.Sprintf(`select=between(n\,%d\,%d)`, r.Start, r.End-1)
	if _, ok := s.SeekPoint(r); ok {
		// Half a frame early absorbs timestamp rounding.
		selectFrames = `select=gte(t\,` + formatSeconds((float64(r.Start)-0.5)/s.SeekFPS) + `)`
	}
	parts := []string{selectFrames, "setpts=N/FRAME_RATE/TB"}
	for _, f := range s.Filters {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, ",")
}

// Args returns the ffmpeg arguments that write the range as y4m to stdout.
func (s Source) Args(r segment.Range) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if at, ok := s.SeekPoint(r); ok {
		// copyts keeps source timestamps for the select cut; start_at_zero
		// removes the container start offset.
		args = append(args, "-copyts", "-start_at_zero", "-ss", formatSeconds(at))
	}
	args = append(args,
		"-i", s.Input,
		"-map", "0:v:0",
		"-vf", s.FilterGraph(r),
		"-fps_mode", "passthrough",
		// ffmpeg would otherwise decode to the end of the input after the
		// last selected frame.
		"-frames:v", strconv.Itoa(r.Len()),
	)
	if pixFmt := strings.TrimSpace(s.PixFmt); pixFmt != "" {
		args = append(args, "-pix_fmt", pixFmt)
	}
	return append(args, "-strict", "-1", "-f", "yuv4mpegpipe", "-")
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
