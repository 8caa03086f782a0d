// Package progress aggregates per-chunk frame counts into run-wide progress.
//
// Workers report events through Tracker.Report; a single goroutine owns the
// counters, refreshes the display, and publishes snapshots. Frame events are
// dropped rather than blocking a worker when the channel is full, since the
// next one carries the absolute count anyway.
package progress
