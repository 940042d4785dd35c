// Package filter narrows action sets by user, status, project and start date.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"pdcaflow/internal/dates"
	"pdcaflow/internal/domain"
)

// Criteria is conjunctive across dimensions and disjunctive within one.
// An empty dimension matches everything.
type Criteria struct {
	Users    []string `json:"users,omitempty"`
	Statuses []string `json:"statuses,omitempty"`
	Projects []string `json:"projects,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
}

func (c Criteria) IsEmpty() bool {
	return len(c.Users) == 0 && len(c.Statuses) == 0 && len(c.Projects) == 0 && c.From == "" && c.To == ""
}

// Normalize dedupes ids and validates the date bounds.
func (c Criteria) Normalize() (Criteria, error) {
	c.Users = domain.UniqueIDs(c.Users)
	c.Statuses = domain.UniqueIDs(c.Statuses)
	c.Projects = domain.UniqueIDs(c.Projects)
	var err error
	if c.From, err = dates.Normalize(c.From); err != nil {
		return c, fmt.Errorf("%w: from: %v", domain.ErrValidation, err)
	}
	if c.To, err = dates.Normalize(c.To); err != nil {
		return c, fmt.Errorf("%w: to: %v", domain.ErrValidation, err)
	}
	if c.From != "" && c.To != "" && c.From > c.To {
		return c, fmt.Errorf("%w: from %s is after to %s", domain.ErrValidation, c.From, c.To)
	}
	return c, nil
}

func (c Criteria) Matches(a domain.Action) bool {
	if len(c.Users) > 0 && !intersects(a.AssignedUsers, c.Users) {
		return false
	}
	if len(c.Statuses) > 0 && !contains(c.Statuses, a.Status) {
		return false
	}
	if len(c.Projects) > 0 && !contains(c.Projects, a.ProjectID) {
		return false
	}
	return c.matchesStart(a.StartDate)
}

// A missing start date never satisfies a lower bound but passes an upper-only range.
func (c Criteria) matchesStart(start string) bool {
	if c.From == "" && c.To == "" {
		return true
	}
	if start == "" {
		return c.From == ""
	}
	return dates.Within(start, c.From, c.To)
}

// Apply keeps matching actions in their original order.
func Apply(actions []domain.Action, c Criteria) []domain.Action {
	if c.IsEmpty() {
		return actions
	}
	out := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		if c.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// Split parses a comma separated query value.
func Split(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return domain.UniqueIDs(strings.Split(raw, ","))
}

type View string

const (
	ViewProjectDetail View = "project-detail"
	ViewCalendar      View = "calendar"
	ViewReport        View = "report"
	ViewDashboard     View = "dashboard"
)

func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewProjectDetail, ViewCalendar, ViewReport, ViewDashboard:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown view %q", domain.ErrValidation, s)
}

// Viewer is the signed-in user as far as defaults are concerned.
type Viewer struct {
	UID   string
	Admin bool
}

// Defaults returns the criteria a view starts with when nothing is saved.
func Defaults(view View, viewer Viewer) Criteria {
	switch view {
	case ViewCalendar:
		if viewer.UID != "" {
			return Criteria{Users: []string{viewer.UID}}
		}
	case ViewReport:
		if !viewer.Admin && viewer.UID != "" {
			return Criteria{Users: []string{viewer.UID}}
		}
	}
	return Criteria{}
}

// Preference is the value saved per (user, view).
type Preference struct {
	Filters *Criteria `json:"filters,omitempty"`
	Columns []string  `json:"columns,omitempty"`
}

func ParsePreference(raw string) (Preference, error) {
	var p Preference
	if strings.TrimSpace(raw) == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("%w: preference: %v", domain.ErrValidation, err)
	}
	return p, nil
}

// Resolve picks the saved filters when present, otherwise the view default.
func Resolve(view View, viewer Viewer, saved *Preference) Criteria {
	if saved != nil && saved.Filters != nil {
		return *saved.Filters
	}
	return Defaults(view, viewer)
}

func intersects(have, want []string) bool {
	for _, h := range have {
		if contains(want, h) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
