// Package stepexec runs one named step for one document: it honours recorded
// completions, evaluates step conditions, invokes the registered handler, and
// retries recoverable failures with exponential backoff.
//
// Every transition is written to the step_records table before the executor
// moves on, so a crash at any point leaves at worst a running record that a
// resume resets to pending.
package stepexec
