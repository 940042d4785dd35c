package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"pdcaflow/internal/aggregate"
	"pdcaflow/internal/dates"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
	"pdcaflow/internal/filter"
)

func registerCatalog(api huma.API, e engine.Engine, cat engine.Catalog) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "Status catalog in display order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.StatusDef] `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		statuses, err := cat.Statuses(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.StatusDef] `json:"body"`
		}{Body: listOf(statuses.List())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-statuses",
		Method:      http.MethodPut,
		Path:        "/statuses",
		Summary:     "Replace the status catalog (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SaveStatusesRequest `json:"body"`
	}) (*struct {
		Body ListResponse[domain.StatusDef] `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		saved, err := e.SaveStatuses(ctx, input.Body.Statuses, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.StatusDef] `json:"body"`
		}{Body: listOf(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-departments",
		Method:      http.MethodGet,
		Path:        "/departments",
		Summary:     "Department catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.Department] `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		depts, err := cat.Departments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Department] `json:"body"`
		}{Body: listOf(depts.List())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-departments",
		Method:      http.MethodPut,
		Path:        "/departments",
		Summary:     "Replace the department catalog (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SaveDepartmentsRequest `json:"body"`
	}) (*struct {
		Body ListResponse[domain.Department] `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		saved, err := e.SaveDepartments(ctx, input.Body.Departments, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.Department] `json:"body"`
		}{Body: listOf(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "User profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ListResponse[domain.UserProfile] `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		users, err := cat.Users(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListResponse[domain.UserProfile] `json:"body"`
		}{Body: listOf(users.List())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-user",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}",
		Summary:     "Create or update a user profile",
		Description: "Users may edit their own profile. Only admins edit others or change roles.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string            `path:"user_id"`
		Body   UpsertUserRequest `json:"body"`
	}) (*struct {
		Body domain.UserProfile `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.UpsertUser(ctx, domain.UserProfile{
			ID:          input.UserID,
			Email:       input.Body.Email,
			DisplayName: input.Body.DisplayName,
			Role:        domain.Role(input.Body.Role),
		}, principal)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserProfile `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "set-user-role",
		Method:        http.MethodPut,
		Path:          "/users/{user_id}/role",
		Summary:       "Change a user's role (admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string         `path:"user_id"`
		Body   SetRoleRequest `json:"body"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetUserRole(ctx, input.UserID, domain.Role(input.Body.Role), principal); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerViews(api huma.API, e engine.Engine, cat engine.Catalog) {
	huma.Register(api, huma.Operation{
		OperationID: "calendar-view",
		Method:      http.MethodGet,
		Path:        "/views/calendar",
		Summary:     "Actions bucketed by day for one month",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Year  int `query:"year" doc:"Defaults to the current year"`
		Month int `query:"month" minimum:"0" maximum:"12" doc:"1-12, defaults to the current month"`
		FilterQuery
	}) (*struct {
		Body engine.CalendarView `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		today, _ := dates.Parse(e.Today())
		year, month := input.Year, time.Month(input.Month)
		if year == 0 {
			year = today.Year()
		}
		if month == 0 {
			month = today.Month()
		}
		view, err := e.Calendar(ctx, principal, year, month, input.override())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CalendarView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-view",
		Method:      http.MethodGet,
		Path:        "/views/dashboard",
		Summary:     "Progress, department grouping and, for admins, per-user workload",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		FilterQuery
	}) (*struct {
		Body engine.DashboardView `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.Dashboard(ctx, cat, principal, input.override())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DashboardView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-view",
		Method:      http.MethodGet,
		Path:        "/views/report",
		Summary:     "Actions finalized in a period, grouped by user and project",
		Description: "Without start and end the period is the previous week.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Start string `query:"start" doc:"YYYY-MM-DD"`
		End   string `query:"end" doc:"YYYY-MM-DD"`
		FilterQuery
	}) (*struct {
		Body engine.ReportView `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var period *aggregate.Period
		if input.Start != "" || input.End != "" {
			period = &aggregate.Period{Start: input.Start, End: input.End}
		}
		view, err := e.Report(ctx, cat, principal, period, input.override())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReportView `json:"body"`
		}{Body: view}, nil
	})
}

// preferenceResponse reports Saved=false when the view runs on its defaults.
type preferenceResponse struct {
	View     filter.View        `json:"view"`
	Saved    bool               `json:"saved"`
	Criteria filter.Criteria    `json:"criteria"`
	Columns  []string           `json:"columns"`
	Raw      *filter.Preference `json:"preference,omitempty"`
}

func registerPreferences(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-preference",
		Method:      http.MethodGet,
		Path:        "/preferences/{view_id}",
		Summary:     "Filters and columns a view opens with",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ViewID string `path:"view_id" enum:"project-detail,calendar,report,dashboard"`
	}) (*struct {
		Body preferenceResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := filter.ParseView(input.ViewID)
		if err != nil {
			return nil, handleError(err)
		}
		c, saved, err := e.LoadCriteria(ctx, principal, view)
		if err != nil {
			return nil, handleError(err)
		}
		resp := preferenceResponse{View: view, Criteria: c, Columns: []string{}, Raw: saved}
		if saved != nil {
			resp.Saved = true
			if saved.Columns != nil {
				resp.Columns = saved.Columns
			}
		}
		return &struct {
			Body preferenceResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-preference",
		Method:      http.MethodPut,
		Path:        "/preferences/{view_id}",
		Summary:     "Save filters and columns for a view",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ViewID string            `path:"view_id" enum:"project-detail,calendar,report,dashboard"`
		Body   filter.Preference `json:"body"`
	}) (*struct {
		Body filter.Preference `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := filter.ParseView(input.ViewID)
		if err != nil {
			return nil, handleError(err)
		}
		saved, err := e.SavePreference(ctx, principal, view, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body filter.Preference `json:"body"`
		}{Body: saved}, nil
	})
}
