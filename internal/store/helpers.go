package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// timeLayout keeps a fixed nine-digit fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const workflowColumns = "id, type, status, config_json, total_documents, completed_documents, failed_documents, created_at, started_at, completed_at, updated_at"

const documentColumns = "id, workflow_id, type, reference, status, metadata_json, current_step, retry_count, retry_after, retry_reason, last_error, error_at, discovered_at, started_at, completed_at, updated_at"

const stepColumns = "document_id, step_name, status, retry_count, max_retries, started_at, completed_at, duration_ms, output_json, error_json, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(scanner rowScanner) (*Workflow, error) {
	var (
		wf          Workflow
		status      string
		configJSON  string
		createdRaw  string
		startedRaw  sql.NullString
		finishedRaw sql.NullString
		updatedRaw  string
	)
	if err := scanner.Scan(
		&wf.ID,
		&wf.Type,
		&status,
		&configJSON,
		&wf.Stats.Total,
		&wf.Stats.Completed,
		&wf.Stats.Failed,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	wf.Status = WorkflowStatus(status)
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &wf.Config); err != nil {
			return nil, err
		}
	}
	wf.CreatedAt = parseTimeOrZero(createdRaw)
	wf.StartedAt = parseNullableTime(startedRaw)
	wf.CompletedAt = parseNullableTime(finishedRaw)
	wf.UpdatedAt = parseTimeOrZero(updatedRaw)
	return &wf, nil
}

func scanDocument(scanner rowScanner) (*Document, error) {
	var (
		doc           Document
		status        string
		metadata      sql.NullString
		currentStep   sql.NullString
		retryAfterRaw sql.NullString
		retryReason   sql.NullString
		lastError     sql.NullString
		errorAtRaw    sql.NullString
		discoveredRaw string
		startedRaw    sql.NullString
		completedRaw  sql.NullString
		updatedRaw    string
	)
	if err := scanner.Scan(
		&doc.ID,
		&doc.WorkflowID,
		&doc.Type,
		&doc.Reference,
		&status,
		&metadata,
		&currentStep,
		&doc.RetryCount,
		&retryAfterRaw,
		&retryReason,
		&lastError,
		&errorAtRaw,
		&discoveredRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	doc.Status = DocumentStatus(status)
	if metadata.Valid && metadata.String != "" {
		doc.Metadata = json.RawMessage(metadata.String)
	}
	doc.CurrentStep = currentStep.String
	doc.RetryAfter = parseNullableTime(retryAfterRaw)
	doc.RetryReason = retryReason.String
	doc.LastError = lastError.String
	doc.ErrorAt = parseNullableTime(errorAtRaw)
	doc.DiscoveredAt = parseTimeOrZero(discoveredRaw)
	doc.StartedAt = parseNullableTime(startedRaw)
	doc.CompletedAt = parseNullableTime(completedRaw)
	doc.UpdatedAt = parseTimeOrZero(updatedRaw)
	return &doc, nil
}

func scanStepRecord(scanner rowScanner) (*StepRecord, error) {
	var (
		rec          StepRecord
		status       string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		durationMS   int64
		output       sql.NullString
		errorData    sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(
		&rec.DocumentID,
		&rec.StepName,
		&status,
		&rec.RetryCount,
		&rec.MaxRetries,
		&startedRaw,
		&completedRaw,
		&durationMS,
		&output,
		&errorData,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.Status = StepStatus(status)
	rec.StartedAt = parseNullableTime(startedRaw)
	rec.CompletedAt = parseNullableTime(completedRaw)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if output.Valid && output.String != "" {
		rec.Output = json.RawMessage(output.String)
	}
	if errorData.Valid && errorData.String != "" {
		rec.Error = json.RawMessage(errorData.String)
	}
	rec.UpdatedAt = parseTimeOrZero(updatedRaw)
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableRaw(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseTimeOrZero(value string) time.Time {
	t, err := parseTimeString(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs[T ~string](statuses []T) []any {
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, string(status))
	}
	return args
}
