package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pdcaflow/internal/domain"
)

const projectColumns = `id,title,description,assigned_users_json,assigned_departments_json,created_by,created_at,archived,deleting`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var (
		p                  domain.Project
		usersRaw, deptsRaw string
		archived, deleting int
	)
	err := row.Scan(&p.ID, &p.Title, &p.Description, &usersRaw, &deptsRaw, &p.CreatedBy, &p.CreatedAt, &archived, &deleting)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if p.AssignedUsers, err = decodeList[string](usersRaw); err != nil {
		return p, err
	}
	if p.AssignedDepartments, err = decodeList[string](deptsRaw); err != nil {
		return p, err
	}
	p.Archived = archived != 0
	p.Deleting = deleting != 0
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	users, err := encodeList(p.AssignedUsers)
	if err != nil {
		return err
	}
	depts, err := encodeList(p.AssignedDepartments)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, p.Description, users, depts, p.CreatedBy, p.CreatedAt, boolInt(p.Archived), boolInt(p.Deleting))
	return err
}

// UpdateProject writes every mutable column of p.
func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	users, err := encodeList(p.AssignedUsers)
	if err != nil {
		return err
	}
	depts, err := encodeList(p.AssignedDepartments)
	if err != nil {
		return err
	}
	return affectedOrNotFound(r.q(tx).ExecContext(ctx,
		`UPDATE projects SET title=?,description=?,assigned_users_json=?,assigned_departments_json=?,archived=?,deleting=? WHERE id=?`,
		p.Title, p.Description, users, depts, boolInt(p.Archived), boolInt(p.Deleting), p.ID))
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	// Member keeps projects created by or assigned to this user.
	Member          string
	IncludeArchived bool
	OnlyArchived    bool
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	switch {
	case f.OnlyArchived:
		clauses = append(clauses, "archived=1")
	case !f.IncludeArchived:
		clauses = append(clauses, "archived=0")
	}
	var args []any
	if f.Member != "" {
		clauses = append(clauses, "(created_by=? OR EXISTS (SELECT 1 FROM json_each(projects.assigned_users_json) WHERE json_each.value=?))")
		args = append(args, f.Member, f.Member)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// NextSeq bumps and returns the project's action counter. Numbers are never handed out twice.
func (r Repo) NextSeq(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	if err := affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE projects SET next_seq=next_seq+1 WHERE id=?`, projectID)); err != nil {
		return 0, err
	}
	var next int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT next_seq FROM projects WHERE id=?`, projectID).Scan(&next); err != nil {
		return 0, err
	}
	return next - 1, nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id))
}
