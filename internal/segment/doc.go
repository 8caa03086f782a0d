// Package segment splits a frame timeline into independently encodable
// chunks.
//
// Build applies the boundary rules (minimum spacing, maximum length) to any
// list of proposed boundaries, and Segmenter chooses where those proposals
// come from: a fixed interval, a scene-change detector, or the source
// keyframe index. Detector failures never abort a run; they degrade to
// fixed-interval chunks and log a warning.
package segment
