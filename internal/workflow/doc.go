// Package workflow drives workflows to completion.
//
// A Manager owns the document loop for each workflow: it claims the
// earliest-discovered eligible document, runs the workflow type's subworkflow
// through the step executor, records failures on the document, and stops when
// the workflow is paused or the queue is drained. It also implements the
// control operations (create, start, pause, resume, retry) and the read-only
// views the CLI and HTTP API expose.
//
// Only one driver may run a workflow at a time. The Manager enforces that
// within the process with an in-memory registry and across processes with a
// lock file per workflow under the configured lock directory.
package workflow
