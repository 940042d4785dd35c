// Package events appends activity-log rows inside the caller's transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProjectCreated   = "project.created"
	ProjectUpdated   = "project.updated"
	ProjectArchived  = "project.archived"
	ProjectRestored  = "project.restored"
	ProjectDeleting  = "project.deleting"
	ProjectDeleted   = "project.deleted"
	ActionCreated    = "action.created"
	ActionUpdated    = "action.updated"
	ActionStatus     = "action.status_changed"
	ActionDeleted    = "action.deleted"
	SubactionAdded   = "subaction.added"
	SubactionUpdated = "subaction.updated"
	SubactionDeleted = "subaction.deleted"
	StatusesSaved    = "statuses.saved"
	DepartmentsSaved = "departments.saved"
	UserUpserted     = "user.upserted"
	UserRoleChanged  = "user.role_changed"
)

type Payload map[string]any

// Record is one activity entry before it is stored.
type Record struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

type Writer struct {
	Now func() time.Time
}

// Append stores rec and returns its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if rec.Payload == nil {
		rec.Payload = Payload{}
	}
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	if rec.ActorID == "" {
		rec.ActorID = "system"
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), rec.Type, nullable(rec.ProjectID), rec.EntityKind, nullable(rec.EntityID), rec.ActorID, string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
