// Package logging assembles structured slog loggers and formatting helpers used
// across chunkwise.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker code automatically
// tags log lines with run IDs, worker slots, chunk indices, and stages. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail, plus a sampler that keeps progress logging readable on non-TTY output.
package logging
