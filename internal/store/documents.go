package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sfcfetch/internal/services"
)

// InsertDocumentIfAbsent records a discovered document unless one with the same
// reference already exists in the workflow. It reports whether a row was added.
func (s *Store) InsertDocumentIfAbsent(ctx context.Context, workflowID int64, doc NewDocument) (bool, error) {
	reference := strings.TrimSpace(doc.Reference)
	if reference == "" {
		return false, errors.New("insert document: reference is required")
	}
	discovered := s.now()
	if !doc.DiscoveredAt.IsZero() {
		discovered = doc.DiscoveredAt
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO documents (workflow_id, type, reference, status, metadata_json, discovered_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (workflow_id, reference) DO NOTHING`,
		workflowID, doc.Type, reference, DocumentPending, nullableRaw(doc.Metadata), formatTime(discovered), now,
	)
	if err != nil {
		return false, fmt.Errorf("insert document %s: %w", reference, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetDocument returns the document with the given id, or nil when it does not exist.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns a workflow's documents in discovery order, optionally
// filtered by status.
func (s *Store) ListDocuments(ctx context.Context, workflowID int64, statuses ...DocumentStatus) ([]*Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE workflow_id = ?"
	args := []any{workflowID}
	if len(statuses) > 0 {
		query += " AND status IN (" + makePlaceholders(len(statuses)) + ")"
		args = append(args, statusArgs(statuses)...)
	}
	query += " ORDER BY discovered_at, id"
	return s.queryDocuments(ctx, query, args...)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]*Document, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// NextEligibleDocument returns the earliest-discovered pending or
// retry_scheduled document of the workflow without claiming it.
func (s *Store) NextEligibleDocument(ctx context.Context, workflowID int64) (*Document, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+documentColumns+` FROM documents
         WHERE workflow_id = ? AND status IN (?, ?)
         ORDER BY discovered_at, id LIMIT 1`,
		workflowID, DocumentPending, DocumentRetryScheduled,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next document for workflow %d: %w", workflowID, err)
	}
	return doc, nil
}

// ClaimNextDocument atomically moves the earliest-discovered eligible document
// to downloading and returns it. It returns nil when nothing is eligible.
func (s *Store) ClaimNextDocument(ctx context.Context, workflowID int64) (*Document, error) {
	ctx = ensureContext(ctx)
	var doc *Document
	err := retryOnBusy(ctx, func() error {
		now := s.timestamp()
		row := s.db.QueryRowContext(ctx,
			`UPDATE documents SET status = ?, started_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM documents
                 WHERE workflow_id = ? AND status IN (?, ?)
                 ORDER BY discovered_at, id LIMIT 1
             )
             RETURNING `+documentColumns,
			DocumentDownloading, now, now, workflowID, DocumentPending, DocumentRetryScheduled,
		)
		claimed, err := scanDocument(row)
		if errors.Is(err, sql.ErrNoRows) {
			doc = nil
			return nil
		}
		if err != nil {
			return err
		}
		doc = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim document for workflow %d: %w", workflowID, err)
	}
	return doc, nil
}

// StartDocument marks a document downloading and stamps started_at.
func (s *Store) StartDocument(ctx context.Context, id int64) error {
	now := s.timestamp()
	return s.execOne(ctx, fmt.Sprintf("start document %d", id),
		`UPDATE documents SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
		DocumentDownloading, now, now, id,
	)
}

// SetDocumentStatus changes only the status column.
func (s *Store) SetDocumentStatus(ctx context.Context, id int64, status DocumentStatus) error {
	return s.execOne(ctx, fmt.Sprintf("set document %d status", id),
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.timestamp(), id,
	)
}

// SetCurrentStep records the last step whose outcome was persisted.
func (s *Store) SetCurrentStep(ctx context.Context, id int64, step string) error {
	return s.execOne(ctx, fmt.Sprintf("set document %d current step", id),
		`UPDATE documents SET current_step = ?, updated_at = ? WHERE id = ?`,
		nullableString(step), s.timestamp(), id,
	)
}

// CompleteDocument marks a document completed.
func (s *Store) CompleteDocument(ctx context.Context, id int64) error {
	now := s.timestamp()
	return s.execOne(ctx, fmt.Sprintf("complete document %d", id),
		`UPDATE documents SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		DocumentCompleted, now, now, id,
	)
}

// FailDocument marks a document failed and records the error text.
func (s *Store) FailDocument(ctx context.Context, id int64, message string) error {
	now := s.timestamp()
	return s.execOne(ctx, fmt.Sprintf("fail document %d", id),
		`UPDATE documents SET status = ?, last_error = ?, error_at = ?, updated_at = ? WHERE id = ?`,
		DocumentFailed, message, now, now, id,
	)
}

// MostRecentActiveDocument returns the running document of the workflow with
// the latest started_at, or nil when none is running.
func (s *Store) MostRecentActiveDocument(ctx context.Context, workflowID int64) (*Document, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+documentColumns+` FROM documents
         WHERE workflow_id = ? AND status IN (?, ?)
         ORDER BY started_at DESC, id DESC LIMIT 1`,
		workflowID, DocumentDownloading, DocumentProcessing,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active document for workflow %d: %w", workflowID, err)
	}
	return doc, nil
}

// ResetDocumentForResume returns a paused or interrupted document to pending,
// clears current_step and started_at, and resets its running step records to
// pending. Failed step records are left untouched.
func (s *Store) ResetDocumentForResume(ctx context.Context, id int64) (int64, error) {
	var stepsReset int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = ?, current_step = NULL, started_at = NULL, updated_at = ? WHERE id = ?`,
			DocumentPending, now, id,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.ErrNotFound
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE step_records SET status = ?, started_at = NULL, completed_at = NULL, updated_at = ?
             WHERE document_id = ? AND status = ?`,
			StepPending, now, id, StepRunning,
		)
		if err != nil {
			return err
		}
		stepsReset, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset document %d for resume: %w", id, err)
	}
	return stepsReset, nil
}

// RecoverInterruptedDocuments resets every downloading or processing document
// of the workflow the same way ResetDocumentForResume does. It is used when a
// run starts after the previous process died without pausing.
func (s *Store) RecoverInterruptedDocuments(ctx context.Context, workflowID int64) (int, error) {
	docs, err := s.ListDocuments(ctx, workflowID, DocumentDownloading, DocumentProcessing)
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		if _, err := s.ResetDocumentForResume(ctx, doc.ID); err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}

// ScheduleRetry moves a failed document to retry_scheduled, bumps its retry
// counter, clears its error and progress fields, and resets its failed step
// records to pending. It returns ErrPrecondition when the document is not failed.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, reason string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET
                status = ?,
                retry_count = retry_count + 1,
                retry_after = ?,
                retry_reason = ?,
                last_error = NULL,
                error_at = NULL,
                current_step = NULL,
                started_at = NULL,
                updated_at = ?
            WHERE id = ? AND status = ?`,
			DocumentRetryScheduled, now, nullableString(reason), now, id, DocumentFailed,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.ErrPrecondition
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE step_records SET
                status = ?,
                retry_count = retry_count + 1,
                started_at = NULL,
                completed_at = NULL,
                error_json = NULL,
                updated_at = ?
            WHERE document_id = ? AND status = ?`,
			StepPending, now, id, StepFailed,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("schedule retry for document %d: %w", id, err)
	}
	return nil
}

// DocumentCounts returns the number of documents per status for one workflow.
func (s *Store) DocumentCounts(ctx context.Context, workflowID int64) (map[DocumentStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM documents WHERE workflow_id = ? GROUP BY status`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("document counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[DocumentStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[DocumentStatus(status)] = count
	}
	return counts, rows.Err()
}
