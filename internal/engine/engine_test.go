package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdcaflow/internal/app"
	"pdcaflow/internal/config"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/filter"
	"pdcaflow/internal/repo"
)

const today = "2024-03-13"

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
}

func (n *recordingNotifier) Changed(kind domain.Collection, scope string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, string(kind)+":"+scope)
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Owner    auth.Principal
	Project  domain.Project
	Notifier *recordingNotifier
	Catalog  engine.Catalog
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.Statuses = append(cfg.Statuses, domain.StatusDef{ID: "revision", Label: "Revisión", Color: "#123456", Type: domain.StatusTypeInProgress})
	ctx := context.Background()
	ws, err := app.Open(ctx, app.Options{
		Dir:    t.TempDir(),
		Config: cfg,
		Now:    func() time.Time { return time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	notifier := &recordingNotifier{}
	eng := ws.Engine
	eng.Notifier = notifier

	owner := auth.Principal{UID: "owner", Role: domain.RoleUser}
	p, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{
		Title:               "Reduce scrap",
		AssignedUsers:       []string{"owner", "member", "member"},
		AssignedDepartments: []string{"calidad"},
		Actor:               owner,
	})
	require.NoError(t, err)
	return testEnv{Engine: eng, Ctx: ctx, Owner: owner, Project: p, Notifier: notifier, Catalog: ws.Registry}
}

func (env testEnv) createAction(t *testing.T, text string) domain.Action {
	t.Helper()
	a, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{
		ProjectID: env.Project.ID, Action: text, Actor: env.Owner,
	})
	require.NoError(t, err)
	return a
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, []string{"owner", "member"}, env.Project.AssignedUsers)

	for name, opts := range map[string]engine.ProjectCreateOptions{
		"blank title":    {Title: " ", AssignedUsers: []string{"u"}, AssignedDepartments: []string{"d"}, Actor: env.Owner},
		"no departments": {Title: "x", AssignedUsers: []string{"u"}, Actor: env.Owner},
		"no users":       {Title: "x", AssignedDepartments: []string{"d"}, Actor: env.Owner},
	} {
		_, err := env.Engine.CreateProject(env.Ctx, opts)
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}
}

func TestCreateActionDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{ProjectID: env.Project.ID, Action: "   ", Actor: env.Owner})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{ProjectID: env.Project.ID, Action: "x", Status: "nope", Actor: env.Owner})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{ProjectID: env.Project.ID, Action: "x", StartDate: "13/03/2024", Actor: env.Owner})
	assert.ErrorIs(t, err, domain.ErrValidation)

	a := env.createAction(t, "  Calibrate press  ")
	assert.Equal(t, "Calibrate press", a.Action)
	assert.Equal(t, "pendiente", a.Status)
	assert.Equal(t, 1, a.SeqID)
	assert.Contains(t, env.Notifier.changes, "actions:"+env.Project.ID)
}

func TestInitialStatusDoesNotTriggerRule(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{
		ProjectID: env.Project.ID, Action: "x", Status: "en_curso", Actor: env.Owner,
	})
	require.NoError(t, err)
	assert.Empty(t, a.StartDate)
}

func TestSeqIDsAreNeverReused(t *testing.T) {
	env := newTestEnv(t)
	first := env.createAction(t, "one")
	second := env.createAction(t, "two")
	require.NoError(t, env.Engine.DeleteAction(env.Ctx, env.Project.ID, second.ID, env.Owner))
	third := env.createAction(t, "three")

	assert.Equal(t, 1, first.SeqID)
	assert.Equal(t, 3, third.SeqID)

	list, err := env.Engine.Repo.ListActions(env.Ctx, repo.ActionFilters{ProjectID: env.Project.ID})
	require.NoError(t, err)
	count := 0
	for _, a := range list {
		if a.SeqID == third.SeqID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestStartStatusOverwritesStartDate(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAction(t, "x")
	old := "2024-01-01"
	a, err := env.Engine.UpdateAction(env.Ctx, env.Project.ID, a.ID, engine.ActionPatch{StartDate: &old}, env.Owner)
	require.NoError(t, err)
	assert.Equal(t, old, a.StartDate)

	a, err = env.Engine.SetActionStatus(env.Ctx, env.Project.ID, a.ID, "en_curso", env.Owner)
	require.NoError(t, err)
	assert.Equal(t, today, a.StartDate)
	assert.Empty(t, a.ActualEndDate)
}

func TestEndStatusKeepsExistingEndDate(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAction(t, "x")

	a, err := env.Engine.SetActionStatus(env.Ctx, env.Project.ID, a.ID, "finalizado", env.Owner)
	require.NoError(t, err)
	assert.Equal(t, today, a.ActualEndDate)

	earlier := "2024-02-02"
	a, err = env.Engine.UpdateAction(env.Ctx, env.Project.ID, a.ID, engine.ActionPatch{ActualEndDate: &earlier}, env.Owner)
	require.NoError(t, err)

	for _, status := range []string{"descartado", "finalizado", "finalizado"} {
		a, err = env.Engine.SetActionStatus(env.Ctx, env.Project.ID, a.ID, status, env.Owner)
		require.NoError(t, err)
		assert.Equal(t, earlier, a.ActualEndDate)
	}
}

func TestNoneAndInProgressLeaveDatesAlone(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAction(t, "x")
	start, end := "2024-01-01", "2024-01-31"
	a, err := env.Engine.UpdateAction(env.Ctx, env.Project.ID, a.ID, engine.ActionPatch{StartDate: &start, ActualEndDate: &end}, env.Owner)
	require.NoError(t, err)

	for _, status := range []string{"revision", "pendiente"} {
		a, err = env.Engine.SetActionStatus(env.Ctx, env.Project.ID, a.ID, status, env.Owner)
		require.NoError(t, err)
		assert.Equal(t, start, a.StartDate)
		assert.Equal(t, end, a.ActualEndDate)
		assert.Equal(t, status, a.Status)
	}
}

func TestRuleRunsAfterExplicitDatesInSamePatch(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAction(t, "x")
	status, start := "en_curso", "2024-01-05"
	a, err := env.Engine.UpdateAction(env.Ctx, env.Project.ID, a.ID, engine.ActionPatch{Status: &status, StartDate: &start}, env.Owner)
	require.NoError(t, err)
	assert.Equal(t, today, a.StartDate)
}

func TestProgressScenario(t *testing.T) {
	env := newTestEnv(t)
	a1 := env.createAction(t, "one")
	a2 := env.createAction(t, "two")
	a3 := env.createAction(t, "three")
	_ = a1
	_, err := env.Engine.SetActionStatus(env.Ctx, env.Project.ID, a2.ID, "revision", env.Owner)
	require.NoError(t, err)
	_, err = env.Engine.SetActionStatus(env.Ctx, env.Project.ID, a3.ID, "finalizado", env.Owner)
	require.NoError(t, err)

	progress := func() int {
		t.Helper()
		list, err := env.Engine.Repo.ListActions(env.Ctx, repo.ActionFilters{ProjectID: env.Project.ID})
		require.NoError(t, err)
		done := 0
		for _, a := range list {
			if a.Status == "finalizado" {
				done++
			}
		}
		return int(float64(done)/float64(len(list))*100 + 0.5)
	}
	assert.Equal(t, 33, progress())
	_, err = env.Engine.SetActionStatus(env.Ctx, env.Project.ID, a2.ID, "finalizado", env.Owner)
	require.NoError(t, err)
	assert.Equal(t, 67, progress())
}

func TestSubactionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAction(t, "parent")

	a, err := env.Engine.AddSubaction(env.Ctx, env.Project.ID, a.ID, engine.SubactionCreateOptions{ID: "s1", Title: "first"}, env.Owner)
	require.NoError(t, err)
	a, err = env.Engine.AddSubaction(env.Ctx, env.Project.ID, a.ID, engine.SubactionCreateOptions{Title: "second", AssignedUsers: []string{"member"}}, env.Owner)
	require.NoError(t, err)
	require.Len(t, a.Subactions, 2)
	assert.NotEmpty(t, a.Subactions[1].ID)

	_, err = env.Engine.AddSubaction(env.Ctx, env.Project.ID, a.ID, engine.SubactionCreateOptions{ID: "s1", Title: "dup"}, env.Owner)
	assert.ErrorIs(t, err, domain.ErrValidation)

	done := "finalizado"
	a, err = env.Engine.UpdateSubaction(env.Ctx, env.Project.ID, a.ID, "s1", engine.SubactionPatch{Status: &done}, env.Owner)
	require.NoError(t, err)
	assert.Equal(t, "finalizado", a.Subactions[0].Status)
	assert.Equal(t, today, a.Subactions[0].ActualEndDate)
	assert.Equal(t, "pendiente", a.Status)

	_, err = env.Engine.UpdateSubaction(env.Ctx, env.Project.ID, a.ID, "missing", engine.SubactionPatch{Status: &done}, env.Owner)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	a, err = env.Engine.DeleteSubaction(env.Ctx, env.Project.ID, a.ID, "s1", env.Owner)
	require.NoError(t, err)
	require.Len(t, a.Subactions, 1)
	assert.Equal(t, "second", a.Subactions[0].Title)
}

func TestNonMemberCannotEdit(t *testing.T) {
	env := newTestEnv(t)
	stranger := auth.Principal{UID: "stranger", Role: domain.RoleUser}
	_, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{ProjectID: env.Project.ID, Action: "x", Actor: stranger})
	var forbidden auth.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))

	member := auth.Principal{UID: "member", Role: domain.RoleUser}
	_, err = env.Engine.ArchiveProject(env.Ctx, env.Project.ID, member)
	assert.True(t, errors.As(err, &forbidden))
	p, err := env.Engine.ArchiveProject(env.Ctx, env.Project.ID, env.Owner)
	require.NoError(t, err)
	assert.True(t, p.Archived)
	p, err = env.Engine.RestoreProject(env.Ctx, env.Project.ID, env.Owner)
	require.NoError(t, err)
	assert.False(t, p.Archived)
}

func TestDeleteProjectResumesAfterPartialCascade(t *testing.T) {
	env := newTestEnv(t)
	keep := env.createAction(t, "stuck")
	env.createAction(t, "goes")

	_, err := env.Engine.DB.Exec(`CREATE TRIGGER block_delete BEFORE DELETE ON actions WHEN old.id='` + keep.ID + `' BEGIN SELECT RAISE(ABORT, 'locked'); END;`)
	require.NoError(t, err)

	err = env.Engine.DeleteProject(env.Ctx, env.Project.ID, env.Owner)
	var cascade *engine.CascadeError
	require.True(t, errors.As(err, &cascade))
	assert.Equal(t, []string{keep.ID}, cascade.Failed)
	assert.Len(t, cascade.Deleted, 1)

	p, err := env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	require.NoError(t, err)
	assert.True(t, p.Deleting)
	assert.True(t, p.Archived)

	_, err = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{ProjectID: p.ID, Action: "late", Actor: env.Owner})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.Engine.DB.Exec(`DROP TRIGGER block_delete`)
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteProject(env.Ctx, env.Project.ID, env.Owner))

	_, err = env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	ids, err := env.Engine.Repo.ActionIDs(env.Ctx, env.Project.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCatalogSavesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SaveStatuses(env.Ctx, []domain.StatusDef{{ID: "a"}}, env.Owner)
	var forbidden auth.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))

	_, err = env.Engine.SaveStatuses(env.Ctx, nil, auth.System())
	assert.ErrorIs(t, err, domain.ErrValidation)

	saved, err := env.Engine.SaveStatuses(env.Ctx, []domain.StatusDef{{ID: "abierto"}, {ID: "cerrado", Type: domain.StatusTypeEnd, Color: "#000000"}}, auth.System())
	require.NoError(t, err)
	assert.Equal(t, "abierto", saved[0].Label)
	assert.Equal(t, domain.NeutralColor, saved[0].Color)
	assert.Contains(t, env.Notifier.changes, "statuses:")
}

func TestUsersAndRoles(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.UpsertUser(env.Ctx, domain.UserProfile{ID: "owner", DisplayName: "Olga", Role: domain.RoleAdmin}, env.Owner)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, u.Role)

	require.NoError(t, env.Engine.SetUserRole(env.Ctx, "owner", domain.RoleAdmin, auth.System()))
	got, err := env.Engine.Repo.GetUser(env.Ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	assert.Equal(t, "Olga", got.DisplayName)
}

func TestPreferencesOverrideDefaults(t *testing.T) {
	env := newTestEnv(t)
	c, saved, err := env.Engine.LoadCriteria(env.Ctx, env.Owner, filter.ViewCalendar)
	require.NoError(t, err)
	assert.Nil(t, saved)
	assert.Equal(t, []string{"owner"}, c.Users)

	_, err = env.Engine.SavePreference(env.Ctx, env.Owner, filter.ViewCalendar, filter.Preference{
		Filters: &filter.Criteria{Statuses: []string{"en_curso"}},
	})
	require.NoError(t, err)
	c, saved, err = env.Engine.LoadCriteria(env.Ctx, env.Owner, filter.ViewCalendar)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Empty(t, c.Users)
	assert.Equal(t, []string{"en_curso"}, c.Statuses)
}
