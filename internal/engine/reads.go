package engine

import (
	"context"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/filter"
	"pdcaflow/internal/repo"
)

// Project returns a project the actor created, is assigned to, or may see as admin.
func (e Engine) Project(ctx context.Context, actor auth.Principal, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if !actor.IsAdmin() && !p.HasMember(actor.UID) {
		return domain.Project{}, auth.ForbiddenError{Action: "view project " + p.ID, UID: actor.UID}
	}
	return p, nil
}

// Projects lists projects visible to the actor. Non-admins only see their own.
func (e Engine) Projects(ctx context.Context, actor auth.Principal, f repo.ProjectFilters) ([]domain.Project, error) {
	if !actor.IsAdmin() {
		if actor.UID == "" {
			return nil, auth.ForbiddenError{Action: "list projects"}
		}
		f.Member = actor.UID
	}
	return e.Repo.ListProjects(ctx, f)
}

func (e Engine) Action(ctx context.Context, actor auth.Principal, projectID, actionID string) (domain.Action, error) {
	if _, err := e.Project(ctx, actor, projectID); err != nil {
		return domain.Action{}, err
	}
	return e.Repo.GetAction(ctx, projectID, actionID)
}

// Actions returns the visible actions that match c, in project then seq order.
// A non-empty projectID narrows to one project the actor can read.
func (e Engine) Actions(ctx context.Context, actor auth.Principal, projectID string, c filter.Criteria) ([]domain.Action, error) {
	c, err := c.Normalize()
	if err != nil {
		return nil, err
	}
	if projectID != "" {
		if _, err := e.Project(ctx, actor, projectID); err != nil {
			return nil, err
		}
		list, err := e.Repo.ListActions(ctx, repo.ActionFilters{ProjectID: projectID})
		if err != nil {
			return nil, err
		}
		return filter.Apply(list, c), nil
	}
	_, list, err := e.visible(ctx, actor)
	if err != nil {
		return nil, err
	}
	return filter.Apply(list, c), nil
}
