// Package queue holds the chunk table that drives a run.
//
// A Queue owns every Chunk of a run in an index-addressed arena guarded by a
// single mutex. Workers claim chunks with ClaimNext and report the outcome
// with MarkDone or MarkFailed; they only ever receive copies, so the table
// is the single source of truth for scheduling state. Restore rebuilds a
// queue from a persisted snapshot, rolling interrupted work back to pending
// using the same transition table the status enum documents.
//
// Once a chunk fails permanently the queue is aborted: ClaimNext stops
// handing out work while running chunks are still allowed to finish.
package queue
