package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentPending        DocumentStatus = "pending"
	DocumentDownloading    DocumentStatus = "downloading"
	DocumentProcessing     DocumentStatus = "processing"
	DocumentPaused         DocumentStatus = "paused"
	DocumentCompleted      DocumentStatus = "completed"
	DocumentFailed         DocumentStatus = "failed"
	DocumentRetryScheduled DocumentStatus = "retry_scheduled"
)

// DocumentStatuses lists every document status in lifecycle order.
var DocumentStatuses = []DocumentStatus{
	DocumentPending,
	DocumentRetryScheduled,
	DocumentDownloading,
	DocumentProcessing,
	DocumentPaused,
	DocumentCompleted,
	DocumentFailed,
}

// IsRunning reports whether a document is actively being processed.
func (s DocumentStatus) IsRunning() bool {
	return s == DocumentDownloading || s == DocumentProcessing
}

// IsEligible reports whether the driver may pick the document up.
func (s DocumentStatus) IsEligible() bool {
	return s == DocumentPending || s == DocumentRetryScheduled
}

// StepStatus is the lifecycle state of one step of one document.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// IsDone reports whether the step never needs to run again for its document.
func (s StepStatus) IsDone() bool {
	return s == StepCompleted || s == StepSkipped
}

// WorkflowConfig is the immutable per-workflow configuration captured at creation.
type WorkflowConfig struct {
	Mode    string            `json:"mode,omitempty"`
	Years   []int             `json:"years,omitempty"`
	Lang    string            `json:"lang,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// WorkflowStats are derived from document counts.
type WorkflowStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Workflow is one long-running acquisition job.
type Workflow struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Status      WorkflowStatus `json:"status"`
	Config      WorkflowConfig `json:"config"`
	Stats       WorkflowStats  `json:"stats"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Document is one unit of work inside a workflow.
type Document struct {
	ID           int64           `json:"id"`
	WorkflowID   int64           `json:"workflow_id"`
	Type         string          `json:"type"`
	Reference    string          `json:"reference"`
	Status       DocumentStatus  `json:"status"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CurrentStep  string          `json:"current_step,omitempty"`
	RetryCount   int             `json:"retry_count"`
	RetryAfter   *time.Time      `json:"retry_after,omitempty"`
	RetryReason  string          `json:"retry_reason,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	ErrorAt      *time.Time      `json:"error_at,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DecodeMetadata unmarshals the document metadata into v.
func (d *Document) DecodeMetadata(v any) error {
	if d == nil || len(d.Metadata) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.Metadata, v); err != nil {
		return fmt.Errorf("decode metadata for document %d: %w", d.ID, err)
	}
	return nil
}

// NewDocument describes a discovered document before it is persisted.
type NewDocument struct {
	Type         string
	Reference    string
	Metadata     json.RawMessage
	DiscoveredAt time.Time
}

// StepRecord is the persisted execution state of one step for one document.
type StepRecord struct {
	DocumentID  int64           `json:"document_id"`
	StepName    string          `json:"step_name"`
	Status      StepStatus      `json:"status"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Duration    time.Duration   `json:"duration"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PauseSnapshot records which document was in flight when a workflow paused.
// A zero DocumentID means nothing was in flight.
type PauseSnapshot struct {
	PausedAt       time.Time      `json:"paused_at"`
	DocumentID     int64          `json:"document_id,omitempty"`
	Reference      string         `json:"reference,omitempty"`
	CurrentStep    string         `json:"current_step,omitempty"`
	DocumentStatus DocumentStatus `json:"document_status,omitempty"`
}

// WorkflowType holds the ordered subworkflow JSON for one workflow type.
type WorkflowType struct {
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	DefaultSubworkflow json.RawMessage `json:"default_subworkflow"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// DatabaseHealth captures diagnostic information about the database.
type DatabaseHealth struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    int      `json:"schema_version"`
	MissingTables    []string `json:"missing_tables,omitempty"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalWorkflows   int      `json:"total_workflows"`
	TotalDocuments   int      `json:"total_documents"`
	Error            string   `json:"error,omitempty"`
}
