package repo

import (
	"context"
	"database/sql"
	"errors"

	"pdcaflow/internal/domain"
)

func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.UserProfile, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,email,display_name,role,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET email=excluded.email, display_name=excluded.display_name, role=excluded.role`,
		u.ID, u.Email, u.DisplayName, string(u.Role), now)
	return err
}

// EnsureUser inserts a profile only when the id is unknown.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, u domain.UserProfile, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO users(id,email,display_name,role,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Email, u.DisplayName, string(u.Role), now)
	return err
}

func (r Repo) SetUserRole(ctx context.Context, tx *sql.Tx, id string, role domain.Role) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, string(role), id))
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.UserProfile, error) {
	var u domain.UserProfile
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,display_name,role FROM users WHERE id=?`, id).Scan(&u.ID, &u.Email, &u.DisplayName, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.Role = domain.ParseRole(role)
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,email,display_name,role FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.UserProfile{}
	for rows.Next() {
		var u domain.UserProfile
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &role); err != nil {
			return nil, err
		}
		u.Role = domain.ParseRole(role)
		res = append(res, u)
	}
	return res, rows.Err()
}
