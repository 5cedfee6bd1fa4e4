// Package logs reads the sfcfetch log file for `sfcfetch logs`.
//
// Tail returns the last N lines, or the lines written after a byte offset,
// optionally waiting for new output and keeping only lines that match a
// filter such as ForWorkflow.
package logs
