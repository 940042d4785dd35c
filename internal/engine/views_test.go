package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdcaflow/internal/aggregate"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/filter"
	"pdcaflow/internal/repo"
)

func (env testEnv) createWith(t *testing.T, opts engine.ActionCreateOptions) domain.Action {
	t.Helper()
	opts.ProjectID = env.Project.ID
	opts.Actor = env.Owner
	a, err := env.Engine.CreateAction(env.Ctx, opts)
	require.NoError(t, err)
	return a
}

func ids(list []domain.Action) []string {
	out := []string{}
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}

func TestCalendarDefaultsToOwnActions(t *testing.T) {
	env := newTestEnv(t)
	mine := env.createWith(t, engine.ActionCreateOptions{
		Action: "calibrate", AssignedUsers: []string{"owner"},
		StartDate: "2024-03-05", ProposedEndDate: "2024-03-07",
	})
	theirs := env.createWith(t, engine.ActionCreateOptions{
		Action: "audit", AssignedUsers: []string{"member"}, StartDate: "2024-03-06",
	})

	view, err := env.Engine.Calendar(env.Ctx, env.Owner, 2024, time.March, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, view.Criteria.Users)
	for _, day := range []string{"2024-03-05", "2024-03-06", "2024-03-07"} {
		assert.Equal(t, []string{mine.ID}, ids(view.Calendar.Day(day)), day)
	}
	assert.Empty(t, view.Calendar.Day("2024-03-08"))

	view, err = env.Engine.Calendar(env.Ctx, env.Owner, 2024, time.March, &filter.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID, theirs.ID}, ids(view.Calendar.Day("2024-03-06")))

	_, err = env.Engine.Calendar(env.Ctx, env.Owner, 2024, time.Month(13), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReportDefaultsToPreviousWeek(t *testing.T) {
	env := newTestEnv(t)
	inside := env.createWith(t, engine.ActionCreateOptions{
		Action: "close nc", AssignedUsers: []string{"member"}, Status: "finalizado", ActualEndDate: "2024-03-08",
	})
	env.createWith(t, engine.ActionCreateOptions{
		Action: "too late", AssignedUsers: []string{"member"}, Status: "finalizado", ActualEndDate: "2024-03-12",
	})
	env.createWith(t, engine.ActionCreateOptions{
		Action: "still open", AssignedUsers: []string{"member"}, ActualEndDate: "2024-03-08",
	})

	view, err := env.Engine.Report(env.Ctx, env.Catalog, auth.System(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, aggregate.Period{Start: "2024-03-04", End: "2024-03-10"}, view.Report.Period)
	assert.Equal(t, 1, view.Report.Total)
	require.Len(t, view.Report.Users, 1)
	assert.Equal(t, "member", view.Report.Users[0].UserID)
	assert.Equal(t, []string{inside.ID}, ids(view.Report.Users[0].Projects[0].Actions))

	// A non-admin only reports on themselves by default.
	view, err = env.Engine.Report(env.Ctx, env.Catalog, env.Owner, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Report.Total)

	_, err = env.Engine.Report(env.Ctx, env.Catalog, auth.System(), &aggregate.Period{Start: "2024-03-10", End: "2024-03-01"}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDashboardWorkloadIsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.createWith(t, engine.ActionCreateOptions{Action: "a", AssignedUsers: []string{"owner", "member"}, Priority: true})
	env.createWith(t, engine.ActionCreateOptions{Action: "b", AssignedUsers: []string{"member"}, Status: "finalizado"})

	view, err := env.Engine.Dashboard(env.Ctx, env.Catalog, env.Owner, nil)
	require.NoError(t, err)
	assert.Nil(t, view.Workload)
	assert.Equal(t, 50, view.Progress)
	require.Len(t, view.Projects, 1)
	assert.Equal(t, 2, view.Projects[0].Total)

	view, err = env.Engine.Dashboard(env.Ctx, env.Catalog, auth.System(), nil)
	require.NoError(t, err)
	loads := map[string]aggregate.UserLoad{}
	for _, l := range view.Workload {
		loads[l.UserID] = l
	}
	assert.Equal(t, 1, loads["member"].Pending)
	assert.Equal(t, 1, loads["member"].Priority)
	assert.Equal(t, 1, loads["owner"].Pending)
}

func TestProjectProgressRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAction(t, "one")
	env.createAction(t, "two")
	_, err := env.Engine.SetActionStatus(env.Ctx, env.Project.ID, a.ID, "descartado", env.Owner)
	require.NoError(t, err)

	view, err := env.Engine.ProjectProgress(env.Ctx, env.Catalog, env.Owner, env.Project.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, view.Progress)
	assert.Len(t, view.Actions, 2)

	stranger := auth.Principal{UID: "stranger", Role: domain.RoleUser}
	_, err = env.Engine.ProjectProgress(env.Ctx, env.Catalog, stranger, env.Project.ID, nil)
	var fe auth.ForbiddenError
	assert.ErrorAs(t, err, &fe)

	_, err = env.Engine.ProjectProgress(env.Ctx, env.Catalog, env.Owner, "missing", nil)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	dash, err := env.Engine.Dashboard(env.Ctx, env.Catalog, stranger, nil)
	require.NoError(t, err)
	assert.Empty(t, dash.Projects)
}
