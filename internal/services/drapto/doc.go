// Package drapto integrates the Drapto Go library so the frame source can
// crop letterboxing before chunks are encoded.
//
// It exposes a CropDetector interface and a Library implementation that calls
// Drapto's crop analysis directly. Tests swap the detection hook to avoid
// sampling real media.
package drapto
