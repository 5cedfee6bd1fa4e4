package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sfcfetch/internal/services"
)

// CreateWorkflow inserts a pending workflow with an immutable configuration.
func (s *Store) CreateWorkflow(ctx context.Context, workflowType string, cfg WorkflowConfig) (*Workflow, error) {
	workflowType = strings.TrimSpace(workflowType)
	if workflowType == "" {
		return nil, errors.New("create workflow: type is required")
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow config: %w", err)
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO workflows (type, status, config_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		workflowType, WorkflowPending, string(configJSON), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert workflow: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetWorkflow(ctx, id)
}

// GetWorkflow returns the workflow with the given id, or nil when it does not exist.
func (s *Store) GetWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+workflowColumns+" FROM workflows WHERE id = ?", id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %d: %w", id, err)
	}
	return wf, nil
}

// ListWorkflows returns every workflow, newest first.
func (s *Store) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT "+workflowColumns+" FROM workflows ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

const setWorkflowStatusSQL = `UPDATE workflows SET
            status = ?,
            started_at = CASE WHEN ? = 'running' THEN COALESCE(started_at, ?) ELSE started_at END,
            completed_at = CASE WHEN ? = 'completed' THEN ? WHEN ? = 'running' THEN NULL ELSE completed_at END,
            updated_at = ?
        WHERE id = ?`

// SetWorkflowStatus moves a workflow to status. Entering running stamps
// started_at once and clears completed_at; entering completed stamps
// completed_at.
func (s *Store) SetWorkflowStatus(ctx context.Context, id int64, status WorkflowStatus) error {
	now := s.timestamp()
	return s.execOne(ctx, fmt.Sprintf("set workflow %d status", id),
		setWorkflowStatusSQL,
		status, status, now, status, now, status, now, id,
	)
}

// TransitionWorkflow moves a workflow to status only when its current status
// is one of from. It returns ErrNotFound for a missing workflow and
// ErrPrecondition when the current status does not allow the move.
func (s *Store) TransitionWorkflow(ctx context.Context, id int64, to WorkflowStatus, from ...WorkflowStatus) error {
	if len(from) == 0 {
		return s.SetWorkflowStatus(ctx, id, to)
	}
	now := s.timestamp()
	args := []any{to, to, now, to, now, to, now, id}
	args = append(args, statusArgs(from)...)
	res, err := s.execWithRetry(ctx,
		setWorkflowStatusSQL+" AND status IN ("+makePlaceholders(len(from))+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("transition workflow %d to %s: %w", id, to, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if wf == nil {
		return fmt.Errorf("workflow %d: %w", id, services.ErrNotFound)
	}
	return fmt.Errorf("workflow %d is %s, cannot move to %s: %w", id, wf.Status, to, services.ErrPrecondition)
}

// RefreshWorkflowStats recomputes the workflow's stats from its documents and
// stores them. Recomputing keeps the counters correct across resumes and retries.
func (s *Store) RefreshWorkflowStats(ctx context.Context, id int64) (WorkflowStats, error) {
	var stats WorkflowStats
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1),
                COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
         FROM documents WHERE workflow_id = ?`, id)
	if err := row.Scan(&stats.Total, &stats.Completed, &stats.Failed); err != nil {
		return stats, fmt.Errorf("count documents for workflow %d: %w", id, err)
	}
	err := s.execOne(ctx, fmt.Sprintf("update workflow %d stats", id),
		`UPDATE workflows SET total_documents = ?, completed_documents = ?, failed_documents = ?, updated_at = ? WHERE id = ?`,
		stats.Total, stats.Completed, stats.Failed, s.timestamp(), id,
	)
	return stats, err
}
