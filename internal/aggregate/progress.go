// Package aggregate derives read-only dashboard, calendar and report views
// from filtered action sets.
package aggregate

import (
	"math"
	"sort"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/registry"
)

// Progress is the rounded share of actions whose status is end-typed. 0 when empty.
func Progress(actions []domain.Action, statuses registry.Statuses) int {
	if len(actions) == 0 {
		return 0
	}
	return percent(countEnded(actions, statuses), len(actions))
}

func countEnded(actions []domain.Action, statuses registry.Statuses) int {
	n := 0
	for _, a := range actions {
		if statuses.IsEnd(a.Status) {
			n++
		}
	}
	return n
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}

type ProjectSummary struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Total     int    `json:"total"`
	Done      int    `json:"done"`
	Progress  int    `json:"progress"`
	Archived  bool   `json:"archived"`
}

// ProjectSummaries computes progress per project, keeping project order.
// Actions of unknown projects are ignored.
func ProjectSummaries(projects []domain.Project, actions []domain.Action, statuses registry.Statuses) []ProjectSummary {
	byProject := map[string][]domain.Action{}
	for _, a := range actions {
		byProject[a.ProjectID] = append(byProject[a.ProjectID], a)
	}
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		list := byProject[p.ID]
		done := countEnded(list, statuses)
		out = append(out, ProjectSummary{
			ProjectID: p.ID,
			Title:     p.Title,
			Total:     len(list),
			Done:      done,
			Progress:  percent(done, len(list)),
			Archived:  p.Archived,
		})
	}
	return out
}

type UserLoad struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Pending     int    `json:"pending"`
	Priority    int    `json:"priority"`
}

// Workload counts open and priority actions per assignee. An action with
// several assignees counts once for each of them.
func Workload(actions []domain.Action, statuses registry.Statuses, users registry.Users) []UserLoad {
	byUser := map[string]*UserLoad{}
	for _, a := range actions {
		if statuses.IsEnd(a.Status) {
			continue
		}
		for _, uid := range domain.UniqueIDs(a.AssignedUsers) {
			load, ok := byUser[uid]
			if !ok {
				load = &UserLoad{UserID: uid, DisplayName: users.Display(uid)}
				byUser[uid] = load
			}
			load.Pending++
			if a.Priority {
				load.Priority++
			}
		}
	}
	out := make([]UserLoad, 0, len(byUser))
	for _, l := range byUser {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pending != out[j].Pending {
			return out[i].Pending > out[j].Pending
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

type StatusCount struct {
	Status domain.StatusDef `json:"status"`
	Count  int              `json:"count"`
}

// StatusBreakdown counts actions per status in catalog order. Ids missing
// from the catalog follow with fallback display, in first-seen order.
func StatusBreakdown(actions []domain.Action, statuses registry.Statuses) []StatusCount {
	counts := map[string]int{}
	var unknown []string
	for _, a := range actions {
		if _, seen := counts[a.Status]; !seen && !statuses.Known(a.Status) {
			unknown = append(unknown, a.Status)
		}
		counts[a.Status]++
	}
	out := []StatusCount{}
	for _, def := range statuses.List() {
		out = append(out, StatusCount{Status: def, Count: counts[def.ID]})
	}
	for _, id := range unknown {
		out = append(out, StatusCount{Status: statuses.Lookup(id), Count: counts[id]})
	}
	return out
}

type DepartmentGroup struct {
	DepartmentID string           `json:"department_id"`
	Name         string           `json:"name"`
	Projects     []domain.Project `json:"projects"`
}

// GroupProjectsByDepartment lists projects under every known department they
// reference. Projects with no known department land in the unassigned group,
// which comes last and only when non-empty.
func GroupProjectsByDepartment(projects []domain.Project, depts registry.Departments) []DepartmentGroup {
	groups := map[string][]domain.Project{}
	for _, p := range projects {
		placed := false
		for _, id := range domain.UniqueIDs(p.AssignedDepartments) {
			if _, ok := depts.Lookup(id); !ok {
				continue
			}
			groups[id] = append(groups[id], p)
			placed = true
		}
		if !placed {
			groups[registry.UnassignedDepartment] = append(groups[registry.UnassignedDepartment], p)
		}
	}
	out := []DepartmentGroup{}
	for _, d := range depts.List() {
		if d.ID == registry.UnassignedDepartment {
			continue
		}
		out = append(out, DepartmentGroup{DepartmentID: d.ID, Name: d.Name, Projects: nonNil(groups[d.ID])})
	}
	if list := groups[registry.UnassignedDepartment]; len(list) > 0 {
		out = append(out, DepartmentGroup{
			DepartmentID: registry.UnassignedDepartment,
			Name:         depts.Name(registry.UnassignedDepartment),
			Projects:     list,
		})
	}
	return out
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
