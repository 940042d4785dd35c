package repo

import (
	"context"
	"database/sql"

	"pdcaflow/internal/domain"
)

func (r Repo) ListStatuses(ctx context.Context) ([]domain.StatusDef, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,label,color,type FROM statuses ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StatusDef{}
	for rows.Next() {
		var s domain.StatusDef
		if err := rows.Scan(&s.ID, &s.Label, &s.Color, &s.Type); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ReplaceStatuses swaps the whole status list, keeping the given order.
func (r Repo) ReplaceStatuses(ctx context.Context, tx *sql.Tx, list []domain.StatusDef) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM statuses`); err != nil {
		return err
	}
	for i, s := range list {
		if _, err := q.ExecContext(ctx, `INSERT INTO statuses(id,label,color,type,position) VALUES (?,?,?,?,?)`,
			s.ID, s.Label, s.Color, string(s.Type), i); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM departments ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Department{}
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) ReplaceDepartments(ctx context.Context, tx *sql.Tx, list []domain.Department) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM departments`); err != nil {
		return err
	}
	for i, d := range list {
		if _, err := q.ExecContext(ctx, `INSERT INTO departments(id,name,position) VALUES (?,?,?)`, d.ID, d.Name, i); err != nil {
			return err
		}
	}
	return nil
}

// CatalogEmpty reports whether the status table has never been seeded.
func (r Repo) CatalogEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM statuses`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}
