// Package encoding runs the chunk worker pool.
//
// A Pool keeps a fixed number of workers busy pulling chunks from the
// queue. Each worker pipes a frame source process into an external encoder
// process, counts frames as they pass to report progress and feed the stall
// watchdog, and records the outcome back on the queue. Every transition is
// checkpointed through the resume hook.
//
// Retryable failures are requeued by the queue itself. Permanent failures
// abort the queue; the pool lets in-flight chunks finish and then returns
// every permanent failure aggregated into one error. Cancelling the context
// kills live child processes and returns interrupted chunks to pending.
//
// Encoders are described by a small table (see Lookup). Parameter strings
// are split shell-style and passed through verbatim.
package encoding
