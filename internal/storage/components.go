package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cartograph-io/cartograph/models"
)

// UpsertComponent inserts or replaces a component definition.
func (s *Storage) UpsertComponent(ctx context.Context, c *models.Component) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshal component config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO components(component_id, map_id, external_id, name, type, config_json, position_x, position_y, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(component_id) DO UPDATE SET
	map_id=excluded.map_id,
	external_id=excluded.external_id,
	name=excluded.name,
	type=excluded.type,
	config_json=excluded.config_json,
	position_x=excluded.position_x,
	position_y=excluded.position_y,
	updated_at=excluded.updated_at
`, c.ID, c.MapID, c.ExternalID, c.Name, c.Type, string(configJSON), c.Position.X, c.Position.Y, ts(c.UpdatedAt))
	if err != nil {
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("upsert component: %w", err)
	}
	return nil
}

// GetComponent returns a component by its internal identifier.
func (s *Storage) GetComponent(ctx context.Context, componentID string) (*models.Component, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT component_id, map_id, external_id, name, type, config_json, position_x, position_y, updated_at
FROM components
WHERE component_id = ?
`, componentID)
	return scanComponent(row)
}

// GetComponentByExternalID returns a component by its author-facing
// identifier within a map.
func (s *Storage) GetComponentByExternalID(ctx context.Context, mapID, externalID string) (*models.Component, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT component_id, map_id, external_id, name, type, config_json, position_x, position_y, updated_at
FROM components
WHERE map_id = ? AND external_id = ?
`, mapID, externalID)
	return scanComponent(row)
}

// ListComponents returns a map's components ordered by external identifier.
func (s *Storage) ListComponents(ctx context.Context, mapID string) ([]*models.Component, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT component_id, map_id, external_id, name, type, config_json, position_x, position_y, updated_at
FROM components
WHERE map_id = ?
ORDER BY external_id ASC
`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Component, 0)
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter components: %w", err)
	}
	return out, nil
}

// DeleteComponent removes a component definition. The persisted runtime
// state is dropped separately via DeleteComponentState.
func (s *Storage) DeleteComponent(ctx context.Context, componentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM components WHERE component_id = ?`, componentID)
	if err != nil {
		return fmt.Errorf("delete component: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete component rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMapIDs enumerates the maps that have at least one component.
func (s *Storage) ListMapIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT map_id FROM components ORDER BY map_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list map ids: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var mapID string
		if err := rows.Scan(&mapID); err != nil {
			return nil, fmt.Errorf("scan map id: %w", err)
		}
		out = append(out, mapID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter map ids: %w", err)
	}
	return out, nil
}

func scanComponent(scanner interface{ Scan(dest ...any) error }) (*models.Component, error) {
	var (
		c          models.Component
		configJSON string
		updatedAt  string
	)
	if err := scanner.Scan(&c.ID, &c.MapID, &c.ExternalID, &c.Name, &c.Type, &configJSON, &c.Position.X, &c.Position.Y, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan component: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &c.Config); err != nil {
		return nil, fmt.Errorf("decode component config: %w", err)
	}
	var err error
	c.UpdatedAt, err = parseTS(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse component updated_at: %w", err)
	}
	return &c, nil
}
