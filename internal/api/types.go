package api

import (
	"sfcfetch/internal/stage"
	"sfcfetch/internal/store"
	"sfcfetch/internal/workflow"
)

// CreateWorkflowRequest is the body of POST /api/workflows.
type CreateWorkflowRequest struct {
	Type    string            `json:"type"`
	Mode    string            `json:"mode,omitempty"`
	Years   []int             `json:"years,omitempty"`
	Lang    string            `json:"lang,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// Config converts the request into the workflow's immutable configuration.
func (r CreateWorkflowRequest) Config() store.WorkflowConfig {
	return store.WorkflowConfig{
		Mode:    r.Mode,
		Years:   r.Years,
		Lang:    r.Lang,
		Options: r.Options,
	}
}

// RetryRequest is the optional body of the retry endpoints.
type RetryRequest struct {
	Reason string `json:"reason,omitempty"`
}

// WorkflowResponse wraps a single workflow.
type WorkflowResponse struct {
	Workflow *store.Workflow `json:"workflow"`
}

// WorkflowListResponse wraps a collection of workflows.
type WorkflowListResponse struct {
	Workflows []*store.Workflow `json:"workflows"`
}

// ActionResponse acknowledges a control action.
type ActionResponse struct {
	WorkflowID int64  `json:"workflow_id,omitempty"`
	DocumentID int64  `json:"document_id,omitempty"`
	Action     string `json:"action"`
	Accepted   bool   `json:"accepted"`
}

// PauseResponse reports the document that was in flight when the workflow paused.
type PauseResponse struct {
	WorkflowID int64                `json:"workflow_id"`
	Snapshot   *store.PauseSnapshot `json:"snapshot,omitempty"`
}

// RetryAllResponse reports how many documents were scheduled.
type RetryAllResponse struct {
	WorkflowID int64    `json:"workflow_id"`
	Scheduled  int      `json:"scheduled"`
	Errors     []string `json:"errors,omitempty"`
}

// FailedResponse lists failed documents of a workflow.
type FailedResponse struct {
	WorkflowID int64                     `json:"workflow_id"`
	Documents  []workflow.FailedDocument `json:"documents"`
}

// DocumentListResponse wraps a collection of documents.
type DocumentListResponse struct {
	Documents []*store.Document `json:"documents"`
}

// StepsResponse lists the step records of one document.
type StepsResponse struct {
	DocumentID int64               `json:"document_id"`
	Steps      []*store.StepRecord `json:"steps"`
}

// Health summarises whether the process can do useful work.
type Health struct {
	Status          string               `json:"status"`
	Database        store.DatabaseHealth `json:"database"`
	Handlers        []stage.Health       `json:"handlers,omitempty"`
	MissingHandlers map[string][]string  `json:"missing_handlers,omitempty"`
	ActiveRuns      []int64              `json:"active_runs"`
}

// Healthy reports whether every check passed.
func (h Health) Healthy() bool {
	return h.Status == HealthOK
}

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
