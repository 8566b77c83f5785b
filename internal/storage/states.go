package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cartograph-io/cartograph/models"
)

// SaveComponentState persists a component's runtime state as a JSON blob.
// The state is machine-owned and read back only on warm start, so a blob
// keeps the write path cheap. The write is idempotent.
func (s *Storage) SaveComponentState(ctx context.Context, componentID string, state models.ComponentRuntimeState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal component state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO component_states(component_id, state_json, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(component_id) DO UPDATE SET
	state_json=excluded.state_json,
	updated_at=excluded.updated_at
`, componentID, string(stateJSON), ts(state.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save component state: %w", err)
	}
	return nil
}

// LoadComponentState reads back a persisted runtime state for warm start.
// A component with no persisted state yields nil, not an error.
func (s *Storage) LoadComponentState(ctx context.Context, componentID string) (*models.ComponentRuntimeState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state_json FROM component_states WHERE component_id = ?`, componentID)
	var stateJSON string
	if err := row.Scan(&stateJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load component state: %w", err)
	}
	var state models.ComponentRuntimeState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("decode component state: %w", err)
	}
	return &state, nil
}

// DeleteComponentState drops the persisted state of an unregistered
// component.
func (s *Storage) DeleteComponentState(ctx context.Context, componentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM component_states WHERE component_id = ?`, componentID); err != nil {
		return fmt.Errorf("delete component state: %w", err)
	}
	return nil
}
