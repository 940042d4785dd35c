package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pdcaflow/internal/domain"
)

const actionColumns = `id,project_id,seq_id,action,assigned_users_json,status,proposed_start_date,proposed_end_date,start_date,actual_end_date,observations,priority,subactions_json,created_at,updated_at`

func scanAction(row rowScanner) (domain.Action, error) {
	var (
		a                 domain.Action
		usersRaw, subsRaw string
		priority          int
	)
	err := row.Scan(&a.ID, &a.ProjectID, &a.SeqID, &a.Action, &usersRaw, &a.Status,
		&a.ProposedStartDate, &a.ProposedEndDate, &a.StartDate, &a.ActualEndDate,
		&a.Observations, &priority, &subsRaw, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if a.AssignedUsers, err = decodeList[string](usersRaw); err != nil {
		return a, err
	}
	if a.Subactions, err = decodeList[domain.Subaction](subsRaw); err != nil {
		return a, err
	}
	for i := range a.Subactions {
		if a.Subactions[i].AssignedUsers == nil {
			a.Subactions[i].AssignedUsers = []string{}
		}
	}
	a.Priority = priority != 0
	return a, nil
}

func actionArgs(a domain.Action) ([]any, error) {
	users, err := encodeList(a.AssignedUsers)
	if err != nil {
		return nil, err
	}
	subs, err := encodeList(a.Subactions)
	if err != nil {
		return nil, err
	}
	return []any{a.Action, users, a.Status, a.ProposedStartDate, a.ProposedEndDate, a.StartDate, a.ActualEndDate,
		a.Observations, boolInt(a.Priority), subs, a.UpdatedAt}, nil
}

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	args, err := actionArgs(a)
	if err != nil {
		return err
	}
	all := append([]any{a.ID, a.ProjectID, a.SeqID}, args[:len(args)-1]...)
	all = append(all, a.CreatedAt, a.UpdatedAt)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, all...)
	return err
}

// UpdateAction overwrites every mutable column; last writer wins.
func (r Repo) UpdateAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	args, err := actionArgs(a)
	if err != nil {
		return err
	}
	args = append(args, a.ID, a.ProjectID)
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE actions SET action=?,assigned_users_json=?,status=?,
proposed_start_date=?,proposed_end_date=?,start_date=?,actual_end_date=?,observations=?,priority=?,subactions_json=?,updated_at=?
WHERE id=? AND project_id=?`, args...))
}

func (r Repo) GetAction(ctx context.Context, projectID, id string) (domain.Action, error) {
	return r.GetActionTx(ctx, nil, projectID, id)
}

func (r Repo) GetActionTx(ctx context.Context, tx *sql.Tx, projectID, id string) (domain.Action, error) {
	return scanAction(r.q(tx).QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=? AND project_id=?`, id, projectID))
}

func (r Repo) DeleteAction(ctx context.Context, tx *sql.Tx, projectID, id string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM actions WHERE id=? AND project_id=?`, id, projectID))
}

type ActionFilters struct {
	// ProjectID scopes to one project; empty lists every non-archived project's actions.
	ProjectID string
	Status    string
	Assignee  string
	Limit     int
}

// ListActions returns actions in insertion order (project, then seq_id).
func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	} else {
		clauses = append(clauses, "project_id IN (SELECT id FROM projects WHERE archived=0)")
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(actions.assigned_users_json) WHERE json_each.value=?)")
		args = append(args, f.Assignee)
	}
	query := `SELECT ` + actionColumns + ` FROM actions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY project_id, seq_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActionIDs lists the ids of every action in a project, orphans included.
func (r Repo) ActionIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM actions WHERE project_id=? ORDER BY seq_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
