package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/registry"
)

func testStatuses() registry.Statuses {
	return registry.NewStatuses([]domain.StatusDef{
		{ID: "pendiente", Label: "Pendiente", Color: "#aaaaaa", Type: domain.StatusTypeNone},
		{ID: "en_curso", Label: "En curso", Color: "#0000ff", Type: domain.StatusTypeNone},
		{ID: "finalizado", Label: "Finalizado", Color: "#00ff00", Type: domain.StatusTypeEnd},
		{ID: "descartado", Label: "Descartado", Color: "#999999", Type: domain.StatusTypeEnd},
	})
}

func ids(actions []domain.Action) []string {
	out := []string{}
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}

func TestProgress(t *testing.T) {
	statuses := testStatuses()
	assert.Equal(t, 0, Progress(nil, statuses))

	actions := []domain.Action{{Status: "pendiente"}, {Status: "en_curso"}, {Status: "finalizado"}}
	assert.Equal(t, 33, Progress(actions, statuses))
	actions[1].Status = "finalizado"
	assert.Equal(t, 67, Progress(actions, statuses))
	actions[0].Status = "descartado"
	assert.Equal(t, 100, Progress(actions, statuses))

	// unknown status ids fall back to type none
	assert.Equal(t, 0, Progress([]domain.Action{{Status: "borrado"}}, statuses))
}

func TestProjectSummaries(t *testing.T) {
	projects := []domain.Project{{ID: "p1", Title: "One"}, {ID: "p2", Title: "Two"}}
	actions := []domain.Action{
		{ProjectID: "p1", Status: "finalizado"},
		{ProjectID: "p1", Status: "pendiente"},
		{ProjectID: "ghost", Status: "finalizado"},
	}
	got := ProjectSummaries(projects, actions, testStatuses())
	require.Len(t, got, 2)
	assert.Equal(t, ProjectSummary{ProjectID: "p1", Title: "One", Total: 2, Done: 1, Progress: 50}, got[0])
	assert.Equal(t, 0, got[1].Progress)
}

func TestWorkloadFansOutPerAssignee(t *testing.T) {
	users := registry.NewUsers([]domain.UserProfile{{ID: "a", DisplayName: "Ana"}})
	actions := []domain.Action{
		{Status: "pendiente", AssignedUsers: []string{"a", "b", "c"}, Priority: true},
		{Status: "en_curso", AssignedUsers: []string{"a"}},
		{Status: "finalizado", AssignedUsers: []string{"a"}, Priority: true},
	}
	got := Workload(actions, testStatuses(), users)
	require.Len(t, got, 3)
	assert.Equal(t, UserLoad{UserID: "a", DisplayName: "Ana", Pending: 2, Priority: 1}, got[0])
	assert.Equal(t, UserLoad{UserID: "b", DisplayName: "b", Pending: 1, Priority: 1}, got[1])
	assert.Equal(t, "c", got[2].UserID)
}

func TestCalendarRangeBucketing(t *testing.T) {
	actions := []domain.Action{
		{ID: "range", StartDate: "2024-03-10", ActualEndDate: "2024-03-12"},
		{ID: "point", ProposedEndDate: "2024-03-20"},
		{ID: "undated"},
		{ID: "proposed", ProposedStartDate: "2024-03-05", ProposedEndDate: "2024-03-06"},
	}
	cal := CalendarMonth(2024, time.March, actions)

	for _, day := range []string{"2024-03-10", "2024-03-11", "2024-03-12"} {
		assert.Equal(t, []string{"range"}, ids(cal.Day(day)), day)
	}
	assert.Empty(t, cal.Day("2024-03-09"))
	assert.Empty(t, cal.Day("2024-03-13"))
	assert.Equal(t, []string{"point"}, ids(cal.Day("2024-03-20")))
	assert.Equal(t, []string{"proposed"}, ids(cal.Day("2024-03-05")))

	total := 0
	for _, list := range cal.Days {
		for _, a := range list {
			assert.NotEqual(t, "undated", a.ID)
			total++
		}
	}
	assert.Equal(t, 6, total)
}

func TestCalendarClipsToMonth(t *testing.T) {
	actions := []domain.Action{{ID: "long", StartDate: "2024-01-25", ActualEndDate: "2024-03-02"}}
	cal := CalendarMonth(2024, time.February, actions)
	assert.Len(t, cal.Days, 29)
	assert.Contains(t, cal.Days, "2024-02-01")
	assert.Contains(t, cal.Days, "2024-02-29")
	assert.NotContains(t, cal.Days, "2024-01-31")

	assert.Empty(t, CalendarMonth(2024, time.April, actions).Days)
}

func TestCalendarRealDatesWinOverProposed(t *testing.T) {
	a := domain.Action{StartDate: "2024-03-03", ProposedStartDate: "2024-03-01", ProposedEndDate: "2024-03-04"}
	start, end, ok := Span(a)
	require.True(t, ok)
	assert.Equal(t, "2024-03-03", start.Format("2006-01-02"))
	assert.Equal(t, "2024-03-04", end.Format("2006-01-02"))
}

func TestFinalizedReport(t *testing.T) {
	period := Period{Start: "2024-03-04", End: "2024-03-10"}
	projects := []domain.Project{{ID: "p1", Title: "One"}, {ID: "p2", Title: "Two"}}
	users := registry.NewUsers([]domain.UserProfile{{ID: "a", DisplayName: "Ana"}})
	actions := []domain.Action{
		{ID: "1", ProjectID: "p1", Status: "finalizado", ActualEndDate: "2024-03-04", AssignedUsers: []string{"a"}},
		{ID: "2", ProjectID: "p2", Status: "descartado", ActualEndDate: "2024-03-10", AssignedUsers: []string{"a", "b"}},
		{ID: "3", ProjectID: "p1", Status: "finalizado", ActualEndDate: "2024-03-11", AssignedUsers: []string{"a"}},
		{ID: "4", ProjectID: "p1", Status: "en_curso", ActualEndDate: "2024-03-05", AssignedUsers: []string{"a"}},
		{ID: "5", ProjectID: "p1", Status: "finalizado", ActualEndDate: "2024-03-06"},
	}
	got := Finalized(period, actions, projects, testStatuses(), users)
	assert.Equal(t, 3, got.Total)
	require.Len(t, got.Users, 3)

	ana := got.Users[0]
	assert.Equal(t, "Ana", ana.DisplayName)
	assert.Equal(t, 2, ana.Count)
	require.Len(t, ana.Projects, 2)
	assert.Equal(t, "One", ana.Projects[0].Title)
	assert.Equal(t, []string{"1"}, ids(ana.Projects[0].Actions))
	assert.Equal(t, []string{"2"}, ids(ana.Projects[1].Actions))

	assert.Equal(t, "b", got.Users[1].UserID)
	assert.Equal(t, UnassignedUser, got.Users[2].UserID)
}

func TestPreviousWeekPeriod(t *testing.T) {
	today := time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, Period{Start: "2024-03-04", End: "2024-03-10"}, PreviousWeek(today, time.Monday))
}

func TestStatusBreakdownKeepsUnknownIDs(t *testing.T) {
	actions := []domain.Action{{Status: "finalizado"}, {Status: "borrado"}, {Status: "borrado"}}
	got := StatusBreakdown(actions, testStatuses())
	require.Len(t, got, 5)
	assert.Equal(t, "pendiente", got[0].Status.ID)
	assert.Equal(t, 0, got[0].Count)
	assert.Equal(t, 1, got[2].Count)
	assert.Equal(t, "borrado", got[4].Status.ID)
	assert.Equal(t, domain.NeutralColor, got[4].Status.Color)
	assert.Equal(t, 2, got[4].Count)
}

func TestGroupProjectsByDepartment(t *testing.T) {
	depts := registry.NewDepartments([]domain.Department{{ID: "d1", Name: "Calidad"}, {ID: "d2", Name: "Planta"}})
	projects := []domain.Project{
		{ID: "p1", AssignedDepartments: []string{"d1", "d2"}},
		{ID: "p2", AssignedDepartments: []string{"deleted"}},
		{ID: "p3"},
	}
	got := GroupProjectsByDepartment(projects, depts)
	require.Len(t, got, 3)
	assert.Equal(t, "d1", got[0].DepartmentID)
	assert.Len(t, got[0].Projects, 1)
	assert.Len(t, got[1].Projects, 1)
	assert.Equal(t, registry.UnassignedDepartment, got[2].DepartmentID)
	assert.Len(t, got[2].Projects, 2)
}
