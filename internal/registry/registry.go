// Package registry provides total lookups over the status, department and
// user catalogs.
package registry

import "pdcaflow/internal/domain"

// Statuses is an ordered status catalog.
type Statuses struct {
	list []domain.StatusDef
	byID map[string]domain.StatusDef
}

func NewStatuses(list []domain.StatusDef) Statuses {
	s := Statuses{list: make([]domain.StatusDef, len(list)), byID: make(map[string]domain.StatusDef, len(list))}
	copy(s.list, list)
	for _, def := range list {
		s.byID[def.ID] = def
	}
	return s
}

// Lookup never fails: unknown ids get a neutral fallback of type none.
func (s Statuses) Lookup(id string) domain.StatusDef {
	if def, ok := s.byID[id]; ok {
		return def
	}
	return domain.FallbackStatus(id)
}

func (s Statuses) Known(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// IsEnd reports whether id resolves to an end-typed status.
func (s Statuses) IsEnd(id string) bool {
	return s.Lookup(id).IsEnd()
}

func (s Statuses) List() []domain.StatusDef {
	out := make([]domain.StatusDef, len(s.list))
	copy(out, s.list)
	return out
}

// UnassignedDepartment is the bucket for projects without a known department.
const UnassignedDepartment = "unassigned"

type Departments struct {
	list []domain.Department
	byID map[string]domain.Department
}

func NewDepartments(list []domain.Department) Departments {
	d := Departments{list: make([]domain.Department, len(list)), byID: make(map[string]domain.Department, len(list))}
	copy(d.list, list)
	for _, dep := range list {
		d.byID[dep.ID] = dep
	}
	return d
}

func (d Departments) Lookup(id string) (domain.Department, bool) {
	dep, ok := d.byID[id]
	return dep, ok
}

// Name falls back to the id for unknown departments.
func (d Departments) Name(id string) string {
	if dep, ok := d.byID[id]; ok {
		return dep.Name
	}
	if id == UnassignedDepartment {
		return "Unassigned"
	}
	return id
}

func (d Departments) List() []domain.Department {
	out := make([]domain.Department, len(d.list))
	copy(out, d.list)
	return out
}

type Users struct {
	list []domain.UserProfile
	byID map[string]domain.UserProfile
}

func NewUsers(list []domain.UserProfile) Users {
	u := Users{list: make([]domain.UserProfile, len(list)), byID: make(map[string]domain.UserProfile, len(list))}
	copy(u.list, list)
	for _, p := range list {
		u.byID[p.ID] = p
	}
	return u
}

func (u Users) Lookup(id string) (domain.UserProfile, bool) {
	p, ok := u.byID[id]
	return p, ok
}

// Display returns the display name, then the email, then the id.
func (u Users) Display(id string) string {
	p, ok := u.byID[id]
	if !ok {
		return id
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Email != "" {
		return p.Email
	}
	return id
}

func (u Users) List() []domain.UserProfile {
	out := make([]domain.UserProfile, len(u.list))
	copy(out, u.list)
	return out
}
