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

// CreateUser inserts a user account. Usernames are unique.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	rolesJSON, err := json.Marshal(user.Roles)
	if err != nil {
		return fmt.Errorf("marshal user roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO users(user_id, username, password_hash, roles_json, enabled, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, user.ID, user.Username, user.PasswordHash, string(rolesJSON), boolToInt(user.Enabled), ts(user.CreatedAt))
	if err != nil {
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByUsername returns a user account by its unique username.
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, username, password_hash, roles_json, enabled, created_at
FROM users
WHERE username = ?
`, username)
	return scanUser(row)
}

// ListUsers returns all user accounts ordered by username.
func (s *Storage) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, username, password_hash, roles_json, enabled, created_at
FROM users
ORDER BY username ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter users: %w", err)
	}
	return out, nil
}

// SetUserEnabled toggles an account without touching its credentials.
func (s *Storage) SetUserEnabled(ctx context.Context, username string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET enabled = ? WHERE username = ?`, boolToInt(enabled), username)
	if err != nil {
		return fmt.Errorf("set user enabled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user enabled rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*models.User, error) {
	var (
		user      models.User
		rolesJSON string
		enabled   int
		createdAt string
	)
	if err := scanner.Scan(&user.ID, &user.Username, &user.PasswordHash, &rolesJSON, &enabled, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if err := json.Unmarshal([]byte(rolesJSON), &user.Roles); err != nil {
		return nil, fmt.Errorf("decode user roles: %w", err)
	}
	user.Enabled = enabled == 1
	var err error
	user.CreatedAt, err = parseTS(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse user created_at: %w", err)
	}
	return &user, nil
}
