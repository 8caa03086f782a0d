// Package preflight provides readiness checks for the files, directories,
// and external tools a run depends on.
//
// These checks run in two contexts:
//   - The pipeline runner calls RunAll before probing the input. If any check
//     fails the run stops with a configuration error before a chunk is claimed.
//   - The CLI "chunkwise deps" command uses CheckSystemDeps to display tool
//     availability.
package preflight
