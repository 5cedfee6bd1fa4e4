// Command sfcfetch creates, runs and inspects document-acquisition
// workflows.
//
// Workflow commands (create, start, pause, resume, retry, retry-all) operate
// directly on the configured database and run workflows in the foreground.
// A per-workflow file lock keeps a foreground run and the daemon from driving
// the same workflow at once. `sfcfetch serve` runs the daemon with its HTTP
// control surface; `sfcfetch status` reports whether it is reachable.
package main
