// Package pipeline runs one chunked encode from start to finish.
//
// A Runner takes a Job through preflight, probing, crop detection,
// segmentation, resume preparation, the concurrent audio pass and worker
// pool, concatenation, and cleanup. Each run is recorded in the history
// database when one is configured. Cancelling the context stops every child
// process and leaves the temp directory resumable.
package pipeline
