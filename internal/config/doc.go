// Package config loads, normalizes, and validates chunkwise configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the CHUNKWISE_TEMP_DIR environment
// fallback. The Config type centralizes every knob the encode pipeline and CLI
// need: encoder selection, chunking bounds, worker budget, resume policy, and
// the external muxer.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical method names, and clear validation errors.
package config
