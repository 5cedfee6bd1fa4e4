// Package store persists workflows, documents, step records, and pause
// snapshots in SQLite and exposes the single-record transitions the workflow
// manager drives them through.
//
// Every mutation is a single-row upsert or a short transaction, so a process
// killed at any point leaves the database describing exactly which steps
// completed. Timestamps are stored as fixed-width UTC text so lexical order
// matches chronological order.
//
// Schema changes bump the version in schema.go; users delete the database to
// adopt the new schema.
package store
