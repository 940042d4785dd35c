package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/repo"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type projectBody struct {
	Body domain.Project `json:"body"`
}

func registerProjects(api huma.API, e engine.Engine, cat engine.Catalog) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*projectBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Title:               input.Body.Title,
			Description:         input.Body.Description,
			AssignedUsers:       input.Body.AssignedUsers,
			AssignedDepartments: input.Body.AssignedDepartments,
			Actor:               principal,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List visible projects",
	}, func(ctx context.Context, input *struct {
		Archived string `query:"archived" enum:"exclude,include,only" default:"exclude"`
	}) (*struct {
		Body ListResponse[domain.Project] `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Projects(ctx, principal, repo.ProjectFilters{
			IncludeArchived: input.Archived == "include",
			OnlyArchived:    input.Archived == "only",
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Project] `json:"body"`
		}{Body: listOf(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*projectBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Project(ctx, principal, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project fields",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*projectBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := rawBodyMap(ctx)
		patch := engine.ProjectPatch{
			Title:               input.Body.Title,
			Description:         input.Body.Description,
			AssignedUsers:       presentList(raw, "assigned_users", input.Body.AssignedUsers),
			AssignedDepartments: presentList(raw, "assigned_departments", input.Body.AssignedDepartments),
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, patch, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	for _, op := range []struct {
		id, suffix, summary string
		fn                  func(context.Context, string, auth.Principal) (domain.Project, error)
	}{
		{"archive-project", "archive", "Archive project", e.ArchiveProject},
		{"restore-project", "restore", "Restore archived project", e.RestoreProject},
	} {
		fn := op.fn
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/" + op.suffix,
			Summary:     op.summary,
			Errors:      []int{http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *projectPath) (*projectBody, error) {
			principal, authErr := principalFromRequest(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := fn(ctx, input.ProjectID, principal)
			if err != nil {
				return nil, handleError(err)
			}
			return &projectBody{Body: p}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project and all its actions",
		Description:   "Deletion runs in two phases. A 409 cascade_incomplete response leaves the project archived and marked deleting; repeat the call to resume.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, principal); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/progress",
		Summary:     "Project detail view: filtered actions and progress",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		FilterQuery
	}) (*struct {
		Body engine.ProjectProgressView `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.ProjectProgress(ctx, cat, principal, input.ProjectID, input.override())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectProgressView `json:"body"`
		}{Body: view}, nil
	})
}
