package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pdcaflow/internal/dates"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/events"
	"pdcaflow/internal/registry"
)

// ActionCreateOptions are parameters for creating an action.
type ActionCreateOptions struct {
	ProjectID         string
	Action            string
	AssignedUsers     []string
	Status            string
	ProposedStartDate string
	ProposedEndDate   string
	StartDate         string
	ActualEndDate     string
	Observations      string
	Priority          bool
	Actor             auth.Principal
}

// ActionPatch updates the fields that are non-nil. Last writer wins.
type ActionPatch struct {
	Action            *string
	AssignedUsers     *[]string
	Status            *string
	ProposedStartDate *string
	ProposedEndDate   *string
	StartDate         *string
	ActualEndDate     *string
	Observations      *string
	Priority          *bool
}

func (p ActionPatch) fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Action != nil, "action")
	add(p.AssignedUsers != nil, "assigned_users")
	add(p.Status != nil, "status")
	add(p.ProposedStartDate != nil, "proposed_start_date")
	add(p.ProposedEndDate != nil, "proposed_end_date")
	add(p.StartDate != nil, "start_date")
	add(p.ActualEndDate != nil, "actual_end_date")
	add(p.Observations != nil, "observations")
	add(p.Priority != nil, "priority")
	return out
}

func normalizeDate(field, v string) (string, error) {
	out, err := dates.Normalize(v)
	if err != nil {
		return "", validationf("%s: %v", field, err)
	}
	return out, nil
}

func knownStatus(statuses registry.Statuses, id string) (domain.StatusDef, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.StatusDef{}, validationf("status is required")
	}
	if !statuses.Known(id) {
		return domain.StatusDef{}, validationf("unknown status %q", id)
	}
	return statuses.Lookup(id), nil
}

// CreateAction validates the input, assigns the next sequence number and
// stores the action. The initial status does not trigger the date rule.
func (e Engine) CreateAction(ctx context.Context, opts ActionCreateOptions) (domain.Action, error) {
	text := strings.TrimSpace(opts.Action)
	if text == "" {
		return domain.Action{}, validationf("action text is required")
	}
	a := domain.Action{
		ID:            newID(),
		ProjectID:     strings.TrimSpace(opts.ProjectID),
		Action:        text,
		AssignedUsers: domain.UniqueIDs(opts.AssignedUsers),
		Status:        strings.TrimSpace(opts.Status),
		Observations:  strings.TrimSpace(opts.Observations),
		Priority:      opts.Priority,
		Subactions:    []domain.Subaction{},
	}
	if a.ProjectID == "" {
		return domain.Action{}, validationf("project is required")
	}
	var err error
	for _, d := range []struct {
		name string
		in   string
		out  *string
	}{
		{"proposed_start_date", opts.ProposedStartDate, &a.ProposedStartDate},
		{"proposed_end_date", opts.ProposedEndDate, &a.ProposedEndDate},
		{"start_date", opts.StartDate, &a.StartDate},
		{"actual_end_date", opts.ActualEndDate, &a.ActualEndDate},
	} {
		if *d.out, err = normalizeDate(d.name, d.in); err != nil {
			return domain.Action{}, err
		}
	}
	if a.Status == "" {
		a.Status = e.Config.DefaultStatus()
	}
	statuses, err := e.statuses(ctx)
	if err != nil {
		return domain.Action{}, err
	}
	if _, err := knownStatus(statuses, a.Status); err != nil {
		return domain.Action{}, err
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, a.ProjectID)
		if err != nil {
			return err
		}
		if err := auth.CanEditProject(opts.Actor, p); err != nil {
			return err
		}
		if p.Deleting {
			return validationf("project %s is being deleted", p.ID)
		}
		seq, err := e.Repo.NextSeq(ctx, tx, p.ID)
		if err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		a.SeqID = seq
		a.CreatedAt = e.timestamp()
		a.UpdatedAt = a.CreatedAt
		if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		_, err = e.Events.Append(ctx, tx, events.Record{
			Type: events.ActionCreated, ProjectID: p.ID, EntityKind: "action", EntityID: a.ID, ActorID: opts.Actor.UID,
			Payload: events.Payload{"seq_id": a.SeqID, "status": a.Status},
		})
		return err
	})
	if err != nil {
		return domain.Action{}, err
	}
	e.notify(domain.CollectionActions, a.ProjectID)
	return a, nil
}

// UpdateAction applies patch. When the patch carries a status different from
// the stored one, the date rule runs after the explicit date fields.
func (e Engine) UpdateAction(ctx context.Context, projectID, actionID string, patch ActionPatch, actor auth.Principal) (domain.Action, error) {
	if patch.Action != nil && strings.TrimSpace(*patch.Action) == "" {
		return domain.Action{}, validationf("action text is required")
	}
	statuses, err := e.statuses(ctx)
	if err != nil {
		return domain.Action{}, err
	}
	var newStatus *domain.StatusDef
	if patch.Status != nil {
		def, err := knownStatus(statuses, *patch.Status)
		if err != nil {
			return domain.Action{}, err
		}
		newStatus = &def
	}
	today := e.Today()

	var out domain.Action
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.checkProjectEdit(ctx, tx, projectID, actor); err != nil {
			return err
		}
		a, err := e.Repo.GetActionTx(ctx, tx, projectID, actionID)
		if err != nil {
			return err
		}
		previous := a.Status
		if patch.Action != nil {
			a.Action = strings.TrimSpace(*patch.Action)
		}
		if patch.AssignedUsers != nil {
			a.AssignedUsers = domain.UniqueIDs(*patch.AssignedUsers)
		}
		if patch.Observations != nil {
			a.Observations = strings.TrimSpace(*patch.Observations)
		}
		if patch.Priority != nil {
			a.Priority = *patch.Priority
		}
		for _, d := range []struct {
			name string
			in   *string
			out  *string
		}{
			{"proposed_start_date", patch.ProposedStartDate, &a.ProposedStartDate},
			{"proposed_end_date", patch.ProposedEndDate, &a.ProposedEndDate},
			{"start_date", patch.StartDate, &a.StartDate},
			{"actual_end_date", patch.ActualEndDate, &a.ActualEndDate},
		} {
			if d.in == nil {
				continue
			}
			if *d.out, err = normalizeDate(d.name, *d.in); err != nil {
				return err
			}
		}
		evtType := events.ActionUpdated
		if newStatus != nil && newStatus.ID != previous {
			a = ApplyStatus(a, *newStatus, today)
			evtType = events.ActionStatus
		}
		a.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateAction(ctx, tx, a); err != nil {
			return err
		}
		out = a
		payload := events.Payload{"fields": patch.fields()}
		if evtType == events.ActionStatus {
			payload["from"] = previous
			payload["to"] = a.Status
		}
		_, err = e.Events.Append(ctx, tx, events.Record{
			Type: evtType, ProjectID: projectID, EntityKind: "action", EntityID: a.ID, ActorID: actor.UID, Payload: payload,
		})
		return err
	})
	if err != nil {
		return domain.Action{}, err
	}
	e.notify(domain.CollectionActions, projectID)
	return out, nil
}

// SetActionStatus changes only the status, with the date rule.
func (e Engine) SetActionStatus(ctx context.Context, projectID, actionID, status string, actor auth.Principal) (domain.Action, error) {
	return e.UpdateAction(ctx, projectID, actionID, ActionPatch{Status: &status}, actor)
}

// DeleteAction removes an action and its sub-actions.
func (e Engine) DeleteAction(ctx context.Context, projectID, actionID string, actor auth.Principal) error {
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.checkProjectEdit(ctx, tx, projectID, actor); err != nil {
			return err
		}
		if err := e.Repo.DeleteAction(ctx, tx, projectID, actionID); err != nil {
			return err
		}
		_, err := e.Events.Append(ctx, tx, events.Record{
			Type: events.ActionDeleted, ProjectID: projectID, EntityKind: "action", EntityID: actionID, ActorID: actor.UID,
		})
		return err
	})
	if err != nil {
		return err
	}
	e.notify(domain.CollectionActions, projectID)
	return nil
}

func (e Engine) checkProjectEdit(ctx context.Context, tx *sql.Tx, projectID string, actor auth.Principal) error {
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	return auth.CanEditProject(actor, p)
}
