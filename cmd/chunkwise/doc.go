// Package main hosts the chunkwise CLI entrypoint and command graph.
//
// The Cobra command tree turns terminal invocations into pipeline runs,
// temp directory inspection, history queries, and configuration
// scaffolding. Configuration is loaded once per invocation and shared by
// every subcommand; commands that must work without a valid config opt out
// through the skipConfigLoad annotation.
//
// Keep this package thin: behaviour belongs in internal packages and is
// surfaced here through flags and rendering.
package main
