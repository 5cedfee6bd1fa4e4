// Package notifications delivers workflow events to ntfy.
//
// NewService returns a no-op service when no topic is configured, so callers
// publish unconditionally. Each Event maps to a fixed title, tag set and
// priority; the Payload fills in the message.
package notifications
