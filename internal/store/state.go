package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PauseStateKey is the system_state key holding a workflow's pause snapshot.
func PauseStateKey(workflowID int64) string {
	return fmt.Sprintf("workflow_%d_pause_state", workflowID)
}

// SetState stores value under key, replacing any previous value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetState returns the value stored under key and whether it exists.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, true, nil
}

// DeleteState removes key. Deleting a missing key is not an error.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM system_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// SavePauseSnapshot stores the snapshot taken when the workflow paused.
func (s *Store) SavePauseSnapshot(ctx context.Context, workflowID int64, snapshot PauseSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal pause snapshot: %w", err)
	}
	return s.SetState(ctx, PauseStateKey(workflowID), string(data))
}

// LoadPauseSnapshot returns the workflow's pause snapshot, or nil when none is stored.
func (s *Store) LoadPauseSnapshot(ctx context.Context, workflowID int64) (*PauseSnapshot, error) {
	raw, ok, err := s.GetState(ctx, PauseStateKey(workflowID))
	if err != nil || !ok {
		return nil, err
	}
	var snapshot PauseSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("decode pause snapshot for workflow %d: %w", workflowID, err)
	}
	return &snapshot, nil
}

// DeletePauseSnapshot removes the workflow's pause snapshot.
func (s *Store) DeletePauseSnapshot(ctx context.Context, workflowID int64) error {
	return s.DeleteState(ctx, PauseStateKey(workflowID))
}
