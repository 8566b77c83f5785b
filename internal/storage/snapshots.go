package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cartograph-io/cartograph/models"
)

// SaveSnapshot persists a snapshot. Snapshots are immutable, so a duplicate
// identifier is an error rather than an update.
func (s *Storage) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	componentsJSON, err := json.Marshal(snap.Components)
	if err != nil {
		return fmt.Errorf("marshal snapshot components: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO snapshots(snapshot_id, map_id, reason, created_at, components_json)
VALUES (?, ?, ?, ?, ?)
`, snap.ID, snap.MapID, string(snap.Reason), ts(snap.CreatedAt), string(componentsJSON))
	if err != nil {
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns a snapshot by identifier.
func (s *Storage) GetSnapshot(ctx context.Context, snapshotID string) (*models.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT snapshot_id, map_id, reason, created_at, components_json
FROM snapshots
WHERE snapshot_id = ?
`, snapshotID)
	return scanSnapshot(row)
}

// ListSnapshots returns a map's snapshots, most recent first.
func (s *Storage) ListSnapshots(ctx context.Context, mapID string, limit int) ([]*models.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT snapshot_id, map_id, reason, created_at, components_json
FROM snapshots
WHERE map_id = ?
ORDER BY created_at DESC, snapshot_id DESC
LIMIT ?
`, mapID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter snapshots: %w", err)
	}
	return out, nil
}

// PruneSnapshots deletes a map's snapshots beyond the newest keep entries.
func (s *Storage) PruneSnapshots(ctx context.Context, mapID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM snapshots
WHERE map_id = ? AND snapshot_id NOT IN (
	SELECT snapshot_id FROM snapshots
	WHERE map_id = ?
	ORDER BY created_at DESC, snapshot_id DESC
	LIMIT ?
)
`, mapID, mapID, keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

func scanSnapshot(scanner interface{ Scan(dest ...any) error }) (*models.Snapshot, error) {
	var (
		snap           models.Snapshot
		reason         string
		createdAt      string
		componentsJSON string
	)
	if err := scanner.Scan(&snap.ID, &snap.MapID, &reason, &createdAt, &componentsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.Reason = models.SnapshotReason(reason)
	if err := json.Unmarshal([]byte(componentsJSON), &snap.Components); err != nil {
		return nil, fmt.Errorf("decode snapshot components: %w", err)
	}
	var err error
	snap.CreatedAt, err = parseTS(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot created_at: %w", err)
	}
	return &snap, nil
}
