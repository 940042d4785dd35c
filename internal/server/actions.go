package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
)

type actionPath struct {
	ProjectID string `path:"project_id"`
	ActionID  string `path:"action_id"`
}

type actionBody struct {
	Body domain.Action `json:"body"`
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List visible actions matching a filter",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		FilterQuery
	}) (*struct {
		Body ListResponse[domain.Action] `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Actions(ctx, principal, "", input.criteria())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Action] `json:"body"`
		}{Body: listOf(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-actions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/actions",
		Summary:     "List a project's actions in seq order",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		FilterQuery
	}) (*struct {
		Body ListResponse[domain.Action] `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Actions(ctx, principal, input.ProjectID, input.criteria())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Action] `json:"body"`
		}{Body: listOf(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-action",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/actions",
		Summary:       "Create action",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateActionRequest `json:"body"`
	}) (*struct {
		Body CreatedAction `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		a, err := e.CreateAction(ctx, engine.ActionCreateOptions{
			ProjectID:         input.ProjectID,
			Action:            b.Action,
			AssignedUsers:     b.AssignedUsers,
			Status:            b.Status,
			ProposedStartDate: b.ProposedStartDate,
			ProposedEndDate:   b.ProposedEndDate,
			StartDate:         b.StartDate,
			ActualEndDate:     b.ActualEndDate,
			Observations:      b.Observations,
			Priority:          b.Priority,
			Actor:             principal,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreatedAction `json:"body"`
		}{Body: CreatedAction{ID: a.ID, SeqID: a.SeqID, Action: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/actions/{action_id}",
		Summary:     "Get action",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*actionBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Action(ctx, principal, input.ProjectID, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &actionBody{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-action",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/actions/{action_id}",
		Summary:     "Update action fields",
		Description: "Fields present in the body overwrite stored values. A changed status applies its date automation after explicit dates in the same body.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		ActionID  string              `path:"action_id"`
		Body      UpdateActionRequest `json:"body"`
	}) (*actionBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		patch := engine.ActionPatch{
			Action:            b.Action,
			AssignedUsers:     presentList(rawBodyMap(ctx), "assigned_users", b.AssignedUsers),
			Status:            b.Status,
			ProposedStartDate: b.ProposedStartDate,
			ProposedEndDate:   b.ProposedEndDate,
			StartDate:         b.StartDate,
			ActualEndDate:     b.ActualEndDate,
			Observations:      b.Observations,
			Priority:          b.Priority,
		}
		a, err := e.UpdateAction(ctx, input.ProjectID, input.ActionID, patch, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &actionBody{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-action-status",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/actions/{action_id}/status",
		Summary:     "Change action status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		ActionID  string           `path:"action_id"`
		Body      SetStatusRequest `json:"body"`
	}) (*actionBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetActionStatus(ctx, input.ProjectID, input.ActionID, input.Body.Status, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &actionBody{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-action",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/actions/{action_id}",
		Summary:       "Delete action and its sub-actions",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAction(ctx, input.ProjectID, input.ActionID, principal); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSubactions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-subaction",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/actions/{action_id}/subactions",
		Summary:       "Append a sub-action",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		ActionID  string                 `path:"action_id"`
		Body      CreateSubactionRequest `json:"body"`
	}) (*actionBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddSubaction(ctx, input.ProjectID, input.ActionID, engine.SubactionCreateOptions{
			ID:            input.Body.ID,
			Title:         input.Body.Title,
			Status:        input.Body.Status,
			AssignedUsers: input.Body.AssignedUsers,
		}, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &actionBody{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-subaction",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/actions/{action_id}/subactions/{subaction_id}",
		Summary:     "Update a sub-action",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID   string                 `path:"project_id"`
		ActionID    string                 `path:"action_id"`
		SubactionID string                 `path:"subaction_id"`
		Body        UpdateSubactionRequest `json:"body"`
	}) (*actionBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := engine.SubactionPatch{
			Title:         input.Body.Title,
			Status:        input.Body.Status,
			AssignedUsers: presentList(rawBodyMap(ctx), "assigned_users", input.Body.AssignedUsers),
		}
		a, err := e.UpdateSubaction(ctx, input.ProjectID, input.ActionID, input.SubactionID, patch, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &actionBody{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-subaction",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/actions/{action_id}/subactions/{subaction_id}",
		Summary:     "Remove a sub-action",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		ActionID    string `path:"action_id"`
		SubactionID string `path:"subaction_id"`
	}) (*actionBody, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.DeleteSubaction(ctx, input.ProjectID, input.ActionID, input.SubactionID, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &actionBody{Body: a}, nil
	})
}
