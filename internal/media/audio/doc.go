// Package audio produces the audio artifact that is muxed next to the
// concatenated video.
//
// The pass runs once per run, alongside chunk encoding. Every stream except
// video and data is mapped so subtitles and chapters survive; audio streams
// are either copied or re-encoded.
//
// Modes:
//   - copy: stream copy of every audio track
//   - encode: re-encode with the configured codec; Opus without an explicit
//     bitrate gets a per-track rate scaled from its channel layout
//   - none: no audio artifact
//
// This package depends only on internal/media/ffprobe for stream metadata.
package audio
