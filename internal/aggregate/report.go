package aggregate

import (
	"sort"
	"time"

	"pdcaflow/internal/dates"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/registry"
)

// Period is an inclusive range of days.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PreviousWeek is the default report period relative to today.
func PreviousWeek(today time.Time, weekStart time.Weekday) Period {
	start, end := dates.PreviousWeekFrom(today, weekStart)
	return Period{Start: dates.Format(start), End: dates.Format(end)}
}

type ProjectGroup struct {
	ProjectID string          `json:"project_id"`
	Title     string          `json:"title"`
	Actions   []domain.Action `json:"actions"`
}

type UserReport struct {
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
	Count       int            `json:"count"`
	Projects    []ProjectGroup `json:"projects"`
}

type FinalizedReport struct {
	Period Period       `json:"period"`
	Total  int          `json:"total"`
	Users  []UserReport `json:"users"`
}

// UnassignedUser groups finalized actions that have no assignee.
const UnassignedUser = ""

// Finalized lists actions with an end-typed status whose actual end date
// falls inside the period, grouped by assignee then project.
func Finalized(period Period, actions []domain.Action, projects []domain.Project, statuses registry.Statuses, users registry.Users) FinalizedReport {
	titles := map[string]string{}
	for _, p := range projects {
		titles[p.ID] = p.Title
	}
	type bucket struct {
		report UserReport
		index  map[string]int
	}
	byUser := map[string]*bucket{}
	var order []string
	report := FinalizedReport{Period: period, Users: []UserReport{}}

	for _, a := range actions {
		if !statuses.IsEnd(a.Status) || !dates.Within(a.ActualEndDate, period.Start, period.End) {
			continue
		}
		report.Total++
		assignees := domain.UniqueIDs(a.AssignedUsers)
		if len(assignees) == 0 {
			assignees = []string{UnassignedUser}
		}
		for _, uid := range assignees {
			b, ok := byUser[uid]
			if !ok {
				name := users.Display(uid)
				if uid == UnassignedUser {
					name = "Unassigned"
				}
				b = &bucket{report: UserReport{UserID: uid, DisplayName: name}, index: map[string]int{}}
				byUser[uid] = b
				order = append(order, uid)
			}
			b.report.Count++
			i, ok := b.index[a.ProjectID]
			if !ok {
				title := titles[a.ProjectID]
				if title == "" {
					title = a.ProjectID
				}
				b.report.Projects = append(b.report.Projects, ProjectGroup{ProjectID: a.ProjectID, Title: title})
				i = len(b.report.Projects) - 1
				b.index[a.ProjectID] = i
			}
			b.report.Projects[i].Actions = append(b.report.Projects[i].Actions, a)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return byUser[order[i]].report.Count > byUser[order[j]].report.Count
	})
	for _, uid := range order {
		report.Users = append(report.Users, byUser[uid].report)
	}
	return report
}
