// Package daemon hosts the long-running sfcfetch process.
//
// It holds a flock-based single-instance lock, serves the HTTP control
// surface from internal/api, and lets the workflow manager drive runs in the
// background. Workflows left running by a process that died are restarted on
// startup; their interrupted documents are recovered by the manager.
//
// Keep orchestration here. Step logic lives with the step handlers and run
// semantics live in internal/workflow.
package daemon
