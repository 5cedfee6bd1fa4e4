package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetStepRecord returns the record for one step of one document, or nil when
// the step has never been recorded.
func (s *Store) GetStepRecord(ctx context.Context, documentID int64, stepName string) (*StepRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+stepColumns+" FROM step_records WHERE document_id = ? AND step_name = ?",
		documentID, stepName,
	)
	rec, err := scanStepRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get step %s for document %d: %w", stepName, documentID, err)
	}
	return rec, nil
}

// UpsertStepRecord writes the full record, replacing any existing row for the
// same (document, step) pair.
func (s *Store) UpsertStepRecord(ctx context.Context, rec StepRecord) error {
	if strings.TrimSpace(rec.StepName) == "" {
		return errors.New("upsert step record: step name is required")
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO step_records (`+stepColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (document_id, step_name) DO UPDATE SET
             status = excluded.status,
             retry_count = excluded.retry_count,
             max_retries = excluded.max_retries,
             started_at = excluded.started_at,
             completed_at = excluded.completed_at,
             duration_ms = excluded.duration_ms,
             output_json = excluded.output_json,
             error_json = excluded.error_json,
             updated_at = excluded.updated_at`,
		rec.DocumentID,
		rec.StepName,
		rec.Status,
		rec.RetryCount,
		rec.MaxRetries,
		nullableTime(rec.StartedAt),
		nullableTime(rec.CompletedAt),
		rec.Duration.Milliseconds(),
		nullableRaw(rec.Output),
		nullableRaw(rec.Error),
		s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert step %s for document %d: %w", rec.StepName, rec.DocumentID, err)
	}
	return nil
}

// ListStepRecords returns a document's step records in first-recorded order.
func (s *Store) ListStepRecords(ctx context.Context, documentID int64) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+stepColumns+" FROM step_records WHERE document_id = ? ORDER BY rowid", documentID)
	if err != nil {
		return nil, fmt.Errorf("list steps for document %d: %w", documentID, err)
	}
	defer rows.Close()

	var records []*StepRecord
	for rows.Next() {
		rec, err := scanStepRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
