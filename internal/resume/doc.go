// Package resume checkpoints a run's chunk table to its temp directory and
// decides, on startup, whether a previous run can be continued.
//
// The Run State is a JSON document written atomically after every chunk
// transition. It carries a fingerprint of everything that affects encoded
// output; a mismatch marks the temp directory stale so incompatible
// artifacts are never reused. A gofrs/flock lock keeps two invocations from
// sharing one temp directory.
package resume
