// Package history keeps a SQLite ledger of encode runs.
//
// Each invocation of the encode command records one row when it starts and
// updates it when it finishes. The ledger is informational: the Run State in
// the temp directory remains the source of truth for resuming.
package history
