// Package config loads, normalizes, and validates sfcfetch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the SFCFETCH_DATA_DIR environment
// fallback. The Config type centralizes the knobs the CLI and daemon need:
// where state lives, how step retries back off, and how fast documents and
// discovery pages are pulled from the source.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
