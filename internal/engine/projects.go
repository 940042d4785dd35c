package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/events"
	"pdcaflow/internal/repo"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Title               string
	Description         string
	AssignedUsers       []string
	AssignedDepartments []string
	Actor               auth.Principal
}

// ProjectPatch updates the fields that are non-nil.
type ProjectPatch struct {
	Title               *string
	Description         *string
	AssignedUsers       *[]string
	AssignedDepartments *[]string
}

func validateProject(p domain.Project) error {
	if p.Title == "" {
		return validationf("project title is required")
	}
	if len(p.AssignedDepartments) == 0 {
		return validationf("at least one department is required")
	}
	if len(p.AssignedUsers) == 0 {
		return validationf("at least one user is required")
	}
	return nil
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	p := domain.Project{
		ID:                  newID(),
		Title:               strings.TrimSpace(opts.Title),
		Description:         strings.TrimSpace(opts.Description),
		AssignedUsers:       domain.UniqueIDs(opts.AssignedUsers),
		AssignedDepartments: domain.UniqueIDs(opts.AssignedDepartments),
		CreatedBy:           opts.Actor.UID,
		CreatedAt:           e.timestamp(),
	}
	if err := validateProject(p); err != nil {
		return domain.Project{}, err
	}
	if p.CreatedBy == "" {
		return domain.Project{}, auth.ForbiddenError{Action: "create project"}
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		_, err := e.Events.Append(ctx, tx, events.Record{
			Type: events.ProjectCreated, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: opts.Actor.UID,
			Payload: events.Payload{"title": p.Title},
		})
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.notify(domain.CollectionProjects, "")
	return p, nil
}

func (e Engine) UpdateProject(ctx context.Context, id string, patch ProjectPatch, actor auth.Principal) (domain.Project, error) {
	var out domain.Project
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := auth.CanEditProject(actor, p); err != nil {
			return err
		}
		var changed []string
		if patch.Title != nil {
			p.Title = strings.TrimSpace(*patch.Title)
			changed = append(changed, "title")
		}
		if patch.Description != nil {
			p.Description = strings.TrimSpace(*patch.Description)
			changed = append(changed, "description")
		}
		if patch.AssignedUsers != nil {
			p.AssignedUsers = domain.UniqueIDs(*patch.AssignedUsers)
			changed = append(changed, "assigned_users")
		}
		if patch.AssignedDepartments != nil {
			p.AssignedDepartments = domain.UniqueIDs(*patch.AssignedDepartments)
			changed = append(changed, "assigned_departments")
		}
		if err := validateProject(p); err != nil {
			return err
		}
		if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
			return err
		}
		out = p
		_, err = e.Events.Append(ctx, tx, events.Record{
			Type: events.ProjectUpdated, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: actor.UID,
			Payload: events.Payload{"fields": changed},
		})
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.notify(domain.CollectionProjects, "")
	return out, nil
}

func (e Engine) ArchiveProject(ctx context.Context, id string, actor auth.Principal) (domain.Project, error) {
	return e.setArchived(ctx, id, true, actor)
}

func (e Engine) RestoreProject(ctx context.Context, id string, actor auth.Principal) (domain.Project, error) {
	return e.setArchived(ctx, id, false, actor)
}

func (e Engine) setArchived(ctx context.Context, id string, archived bool, actor auth.Principal) (domain.Project, error) {
	var out domain.Project
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := auth.CanDeleteProject(actor, p); err != nil {
			return err
		}
		if p.Deleting {
			return validationf("project %s is being deleted", id)
		}
		p.Archived = archived
		if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
			return err
		}
		out = p
		evt := events.ProjectArchived
		if !archived {
			evt = events.ProjectRestored
		}
		_, err = e.Events.Append(ctx, tx, events.Record{
			Type: evt, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: actor.UID,
		})
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.notify(domain.CollectionProjects, "")
	e.notify(domain.CollectionActions, "")
	return out, nil
}

// CascadeError reports a project deletion that removed only some actions.
// The project stays marked as deleting; calling DeleteProject again resumes.
type CascadeError struct {
	ProjectID string
	Deleted   []string
	Failed    []string
	Err       error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("project %s: deleted %d actions, %d failed: %v", e.ProjectID, len(e.Deleted), len(e.Failed), e.Err)
}

func (e *CascadeError) Unwrap() error {
	return e.Err
}

// DeleteProject removes a project in two phases: mark it deleting and
// archived, delete each action on its own, then delete the project row.
func (e Engine) DeleteProject(ctx context.Context, id string, actor auth.Principal) error {
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := auth.CanDeleteProject(actor, p); err != nil {
			return err
		}
		if p.Deleting && p.Archived {
			return nil
		}
		p.Deleting = true
		p.Archived = true
		if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
			return err
		}
		_, err = e.Events.Append(ctx, tx, events.Record{
			Type: events.ProjectDeleting, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: actor.UID,
		})
		return err
	})
	if err != nil {
		return err
	}
	e.notify(domain.CollectionProjects, "")
	e.notify(domain.CollectionActions, "")

	ids, err := e.Repo.ActionIDs(ctx, id)
	if err != nil {
		return err
	}
	cascade := &CascadeError{ProjectID: id}
	for _, actionID := range ids {
		if err := e.DeleteAction(ctx, id, actionID, actor); err != nil && !errors.Is(err, repo.ErrNotFound) {
			e.logger().Warn("cascade delete failed", "project", id, "action", actionID, "err", err)
			cascade.Failed = append(cascade.Failed, actionID)
			cascade.Err = errors.Join(cascade.Err, err)
			continue
		}
		cascade.Deleted = append(cascade.Deleted, actionID)
	}
	if len(cascade.Failed) > 0 {
		return cascade
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
			return err
		}
		_, err := e.Events.Append(ctx, tx, events.Record{
			Type: events.ProjectDeleted, ProjectID: id, EntityKind: "project", EntityID: id, ActorID: actor.UID,
			Payload: events.Payload{"actions_deleted": len(cascade.Deleted)},
		})
		return err
	})
	if err != nil {
		return err
	}
	e.notify(domain.CollectionProjects, "")
	return nil
}
