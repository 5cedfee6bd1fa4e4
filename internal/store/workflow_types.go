package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UpsertWorkflowType stores the ordered subworkflow definition for a workflow type.
func (s *Store) UpsertWorkflowType(ctx context.Context, name, description string, subworkflow json.RawMessage) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("upsert workflow type: name is required")
	}
	if !json.Valid(subworkflow) {
		return fmt.Errorf("upsert workflow type %s: subworkflow is not valid JSON", name)
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO workflow_types (name, description, default_subworkflow, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (name) DO UPDATE SET
             description = excluded.description,
             default_subworkflow = excluded.default_subworkflow,
             updated_at = excluded.updated_at`,
		name, nullableString(description), string(subworkflow), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert workflow type %s: %w", name, err)
	}
	return nil
}

// GetWorkflowType returns the named workflow type, or nil when it is not registered.
func (s *Store) GetWorkflowType(ctx context.Context, name string) (*WorkflowType, error) {
	var (
		wt          WorkflowType
		description sql.NullString
		definition  string
		updatedRaw  string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT name, description, default_subworkflow, updated_at FROM workflow_types WHERE name = ?`, name,
	).Scan(&wt.Name, &description, &definition, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow type %s: %w", name, err)
	}
	wt.Description = description.String
	wt.DefaultSubworkflow = json.RawMessage(definition)
	wt.UpdatedAt = parseTimeOrZero(updatedRaw)
	return &wt, nil
}
