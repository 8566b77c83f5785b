package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cartograph-io/cartograph/models"
)

// SaveCommand inserts or updates a command audit record. The orchestrator
// writes once on dispatch and once on resolution.
func (s *Storage) SaveCommand(ctx context.Context, cmd *models.Command) error {
	var argsJSON any
	if cmd.Args != nil {
		buf, err := json.Marshal(cmd.Args)
		if err != nil {
			return fmt.Errorf("marshal command args: %w", err)
		}
		argsJSON = string(buf)
	}
	var resultJSON any
	if len(cmd.Result) > 0 {
		resultJSON = string(cmd.Result)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO commands(command_id, component_id, action_name, idempotency_key, requester, agent_id, status, args_json, result_json, failure_reason, requested_at, started_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(command_id) DO UPDATE SET
	agent_id=excluded.agent_id,
	status=excluded.status,
	result_json=excluded.result_json,
	failure_reason=excluded.failure_reason,
	started_at=excluded.started_at,
	completed_at=excluded.completed_at
`, cmd.ID, cmd.ComponentID, cmd.ActionName, cmd.IdempotencyKey, cmd.Requester, nullIfEmpty(cmd.AgentID), string(cmd.Status), argsJSON, resultJSON, nullIfEmpty(cmd.FailureReason), ts(cmd.RequestedAt), nullableTS(cmd.StartedAt), nullableTS(cmd.CompletedAt))
	if err != nil {
		return fmt.Errorf("save command: %w", err)
	}
	return nil
}

// GetCommand returns a command audit record by identifier.
func (s *Storage) GetCommand(ctx context.Context, commandID string) (*models.Command, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT command_id, component_id, action_name, idempotency_key, requester, COALESCE(agent_id, ''), status, args_json, result_json, COALESCE(failure_reason, ''), requested_at, started_at, completed_at
FROM commands
WHERE command_id = ?
`, commandID)
	return scanCommand(row)
}

// ListCommands returns a component's commands, most recent first.
func (s *Storage) ListCommands(ctx context.Context, componentID string, limit int) ([]*models.Command, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT command_id, component_id, action_name, idempotency_key, requester, COALESCE(agent_id, ''), status, args_json, result_json, COALESCE(failure_reason, ''), requested_at, started_at, completed_at
FROM commands
WHERE component_id = ?
ORDER BY requested_at DESC, command_id DESC
LIMIT ?
`, componentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Command, 0)
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter commands: %w", err)
	}
	return out, nil
}

func scanCommand(scanner interface{ Scan(dest ...any) error }) (*models.Command, error) {
	var (
		cmd         models.Command
		status      string
		argsJSON    sql.NullString
		resultJSON  sql.NullString
		requestedAt string
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	if err := scanner.Scan(&cmd.ID, &cmd.ComponentID, &cmd.ActionName, &cmd.IdempotencyKey, &cmd.Requester, &cmd.AgentID, &status, &argsJSON, &resultJSON, &cmd.FailureReason, &requestedAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan command: %w", err)
	}
	cmd.Status = models.CommandStatus(status)
	if argsJSON.Valid {
		if err := json.Unmarshal([]byte(argsJSON.String), &cmd.Args); err != nil {
			return nil, fmt.Errorf("decode command args: %w", err)
		}
	}
	if resultJSON.Valid {
		cmd.Result = json.RawMessage(resultJSON.String)
	}
	var err error
	cmd.RequestedAt, err = parseTS(requestedAt)
	if err != nil {
		return nil, fmt.Errorf("parse command requested_at: %w", err)
	}
	if startedAt.Valid {
		v, err := parseTS(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse command started_at: %w", err)
		}
		cmd.StartedAt = &v
	}
	if completedAt.Valid {
		v, err := parseTS(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse command completed_at: %w", err)
		}
		cmd.CompletedAt = &v
	}
	return &cmd, nil
}
