// Package logs reads and follows the chunkwise log file.
//
// Last returns the final lines with bounded memory; Follow polls for appended
// lines until its context ends and restarts from the top when the file is
// truncated or replaced.
package logs
