package engine

import (
	"context"
	"time"

	"pdcaflow/internal/aggregate"
	"pdcaflow/internal/dates"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/filter"
	"pdcaflow/internal/registry"
	"pdcaflow/internal/repo"
)

// Catalog supplies the registries views aggregate against.
// registry.Cache is the usual implementation.
type Catalog interface {
	Statuses(ctx context.Context) (registry.Statuses, error)
	Departments(ctx context.Context) (registry.Departments, error)
	Users(ctx context.Context) (registry.Users, error)
}

type CalendarView struct {
	Criteria filter.Criteria    `json:"criteria"`
	Calendar aggregate.Calendar `json:"calendar"`
}

type DashboardView struct {
	Criteria    filter.Criteria             `json:"criteria"`
	Progress    int                         `json:"progress"`
	Projects    []aggregate.ProjectSummary  `json:"projects"`
	Departments []aggregate.DepartmentGroup `json:"departments"`
	Statuses    []aggregate.StatusCount     `json:"statuses"`
	// Workload is only filled for admins.
	Workload []aggregate.UserLoad `json:"workload,omitempty"`
}

type ReportView struct {
	Criteria filter.Criteria           `json:"criteria"`
	Report   aggregate.FinalizedReport `json:"report"`
}

type ProjectProgressView struct {
	Project  domain.Project          `json:"project"`
	Criteria filter.Criteria         `json:"criteria"`
	Progress int                     `json:"progress"`
	Statuses []aggregate.StatusCount `json:"statuses"`
	Actions  []domain.Action         `json:"actions"`
}

// visible returns the non-archived projects the actor can see and their actions.
// Admins see everything.
func (e Engine) visible(ctx context.Context, actor auth.Principal) ([]domain.Project, []domain.Action, error) {
	pf := repo.ProjectFilters{}
	if !actor.IsAdmin() {
		if actor.UID == "" {
			return nil, nil, auth.ForbiddenError{Action: "read views"}
		}
		pf.Member = actor.UID
	}
	projects, err := e.Repo.ListProjects(ctx, pf)
	if err != nil {
		return nil, nil, err
	}
	all, err := e.Repo.ListActions(ctx, repo.ActionFilters{})
	if err != nil {
		return nil, nil, err
	}
	ids := make(map[string]bool, len(projects))
	for _, p := range projects {
		ids[p.ID] = true
	}
	actions := make([]domain.Action, 0, len(all))
	for _, a := range all {
		if ids[a.ProjectID] {
			actions = append(actions, a)
		}
	}
	return projects, actions, nil
}

// criteria picks an explicit override, else the saved preference or view default.
func (e Engine) criteria(ctx context.Context, actor auth.Principal, view filter.View, override *filter.Criteria) (filter.Criteria, error) {
	if override != nil {
		return override.Normalize()
	}
	c, _, err := e.LoadCriteria(ctx, actor, view)
	return c, err
}

// Calendar buckets the actor's filtered actions into the days of a month.
func (e Engine) Calendar(ctx context.Context, actor auth.Principal, year int, month time.Month, override *filter.Criteria) (CalendarView, error) {
	if month < time.January || month > time.December {
		return CalendarView{}, validationf("month %d out of range", month)
	}
	c, err := e.criteria(ctx, actor, filter.ViewCalendar, override)
	if err != nil {
		return CalendarView{}, err
	}
	_, actions, err := e.visible(ctx, actor)
	if err != nil {
		return CalendarView{}, err
	}
	return CalendarView{
		Criteria: c,
		Calendar: aggregate.CalendarMonth(year, month, filter.Apply(actions, c)),
	}, nil
}

func (e Engine) Dashboard(ctx context.Context, cat Catalog, actor auth.Principal, override *filter.Criteria) (DashboardView, error) {
	c, err := e.criteria(ctx, actor, filter.ViewDashboard, override)
	if err != nil {
		return DashboardView{}, err
	}
	projects, actions, err := e.visible(ctx, actor)
	if err != nil {
		return DashboardView{}, err
	}
	statuses, err := cat.Statuses(ctx)
	if err != nil {
		return DashboardView{}, err
	}
	depts, err := cat.Departments(ctx)
	if err != nil {
		return DashboardView{}, err
	}
	actions = filter.Apply(actions, c)
	view := DashboardView{
		Criteria:    c,
		Progress:    aggregate.Progress(actions, statuses),
		Projects:    aggregate.ProjectSummaries(projects, actions, statuses),
		Departments: aggregate.GroupProjectsByDepartment(projects, depts),
		Statuses:    aggregate.StatusBreakdown(actions, statuses),
	}
	if actor.IsAdmin() {
		users, err := cat.Users(ctx)
		if err != nil {
			return DashboardView{}, err
		}
		view.Workload = aggregate.Workload(actions, statuses, users)
	}
	return view, nil
}

// Report lists actions finalized in period. A nil period means the previous
// week relative to today.
func (e Engine) Report(ctx context.Context, cat Catalog, actor auth.Principal, period *aggregate.Period, override *filter.Criteria) (ReportView, error) {
	c, err := e.criteria(ctx, actor, filter.ViewReport, override)
	if err != nil {
		return ReportView{}, err
	}
	var p aggregate.Period
	if period == nil {
		today, _ := dates.Parse(e.Today())
		p = aggregate.PreviousWeek(today, e.Config.WeekStart())
	} else {
		if p.Start, err = dates.Normalize(period.Start); err != nil || p.Start == "" {
			return ReportView{}, validationf("period start %q must be YYYY-MM-DD", period.Start)
		}
		if p.End, err = dates.Normalize(period.End); err != nil || p.End == "" {
			return ReportView{}, validationf("period end %q must be YYYY-MM-DD", period.End)
		}
		if p.Start > p.End {
			return ReportView{}, validationf("period start %s is after end %s", p.Start, p.End)
		}
	}
	projects, actions, err := e.visible(ctx, actor)
	if err != nil {
		return ReportView{}, err
	}
	statuses, err := cat.Statuses(ctx)
	if err != nil {
		return ReportView{}, err
	}
	users, err := cat.Users(ctx)
	if err != nil {
		return ReportView{}, err
	}
	return ReportView{
		Criteria: c,
		Report:   aggregate.Finalized(p, filter.Apply(actions, c), projects, statuses, users),
	}, nil
}

// ProjectProgress is the project detail view: filtered actions plus progress.
func (e Engine) ProjectProgress(ctx context.Context, cat Catalog, actor auth.Principal, projectID string, override *filter.Criteria) (ProjectProgressView, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ProjectProgressView{}, err
	}
	if !actor.IsAdmin() && !p.HasMember(actor.UID) {
		return ProjectProgressView{}, auth.ForbiddenError{Action: "view project " + p.ID, UID: actor.UID}
	}
	c, err := e.criteria(ctx, actor, filter.ViewProjectDetail, override)
	if err != nil {
		return ProjectProgressView{}, err
	}
	actions, err := e.Repo.ListActions(ctx, repo.ActionFilters{ProjectID: p.ID})
	if err != nil {
		return ProjectProgressView{}, err
	}
	statuses, err := cat.Statuses(ctx)
	if err != nil {
		return ProjectProgressView{}, err
	}
	actions = filter.Apply(actions, c)
	return ProjectProgressView{
		Project:  p,
		Criteria: c,
		Progress: aggregate.Progress(actions, statuses),
		Statuses: aggregate.StatusBreakdown(actions, statuses),
		Actions:  actions,
	}, nil
}
