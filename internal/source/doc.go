// Package source builds the ffmpeg invocation that decodes one chunk's frame
// range to a yuv4mpegpipe stream, and counts frames as that stream flows to
// the encoder.
//
// Frame selection uses the select filter on decoded frame numbers, so a
// given range yields the same frames on every invocation regardless of
// container seek accuracy.
package source
