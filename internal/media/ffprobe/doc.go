// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video/subtitle stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns parsed Result
//   - CountFrames: decodes packet counts when the container has no frame total
//
// Helper methods on Result derive the values chunk planning needs: the
// primary video stream, its frame rate and frame count, and the audio layout.
package ffprobe
