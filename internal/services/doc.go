// Package services defines shared utilities consumed by the pipeline stages
// and the external tool wrappers.
//
// Key responsibilities:
//   - Context helpers that stamp chunk indices, worker slots, stage names, and
//     run identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the worker pool
//     decide whether a chunk failure is retryable or permanent.
//
// Use these helpers when wiring new stage logic so error classification and
// observability stay uniform across the pipeline.
package services
