// Package detect proposes chunk boundaries by running ffmpeg scene-change
// detection or by reading the source keyframe index with ffprobe.
//
// Both detectors satisfy segment.Detector. They stream tool output line by
// line, so memory use does not grow with input length, and they wrap
// failures with services.ErrExternalTool; the segmenter decides whether a
// failure is fatal.
package detect
