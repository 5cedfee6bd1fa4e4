// Package api serves the HTTP JSON control surface for workflows.
//
// Routes map one-to-one onto the workflow manager's control operations:
//
//	GET  /api/workflows                      list workflows
//	POST /api/workflows                      create a workflow
//	GET  /api/workflows/{id}                 describe one workflow
//	POST /api/workflows/{id}/start           start or reopen in the background
//	POST /api/workflows/{id}/pause           pause between documents
//	POST /api/workflows/{id}/resume          resume in the background
//	POST /api/workflows/{id}/retry-failed    schedule every failed document
//	GET  /api/workflows/{id}/progress        per-status counts
//	GET  /api/workflows/{id}/failed          failed documents and their steps
//	GET  /api/workflows/{id}/documents       documents, filterable by ?status=
//	GET  /api/documents/{id}/steps           step records of one document
//	POST /api/documents/{id}/retry           schedule one failed document
//	GET  /api/health                         database and handler health
//	GET  /metrics                            Prometheus exposition
//
// Errors are returned as {"error": "..."} with the status derived from the
// services error markers: not found is 404, precondition is 409, validation
// and configuration are 400, anything else is 500.
package api
