package repo

import (
	"context"
	"database/sql"
	"errors"
)

// GetPreference returns the raw JSON saved for (userID, viewID).
func (r Repo) GetPreference(ctx context.Context, userID, viewID string) (string, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT value_json FROM preferences WHERE user_id=? AND view_id=?`, userID, viewID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return raw, err
}

func (r Repo) PutPreference(ctx context.Context, userID, viewID, valueJSON, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO preferences(user_id,view_id,value_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id,view_id) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		userID, viewID, valueJSON, now)
	return err
}

func (r Repo) DeletePreference(ctx context.Context, userID, viewID string) error {
	return affectedOrNotFound(r.DB.ExecContext(ctx, `DELETE FROM preferences WHERE user_id=? AND view_id=?`, userID, viewID))
}
