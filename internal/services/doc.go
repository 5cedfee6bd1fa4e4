// Package services defines shared utilities consumed by step handlers, the
// workflow manager, and the control surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp workflow IDs, document IDs, step names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     as retryable step errors, terminal step errors, or caller mistakes.
package services
