// Package circulars provides the step handlers and the search source for the
// circulars workflow type.
//
// The network side of each step is a placeholder: handlers report where the
// artifact for a reference lives under the data directory without fetching
// it. save_metadata does write the document metadata to disk so a completed
// document always leaves a local record.
package circulars
