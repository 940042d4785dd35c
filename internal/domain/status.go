package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// StatusType classifies a status for date automation.
type StatusType string

const (
	StatusTypeNone       StatusType = "none"
	StatusTypeStart      StatusType = "start"
	StatusTypeEnd        StatusType = "end"
	StatusTypeInProgress StatusType = "inprogress"
)

// NeutralColor is used for statuses that no longer exist in the registry.
const NeutralColor = "#9e9e9e"

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type StatusDef struct {
	ID    string     `json:"id" yaml:"id"`
	Label string     `json:"label" yaml:"label"`
	Color string     `json:"color" yaml:"color"`
	Type  StatusType `json:"type" yaml:"type" enum:"none,start,end,inprogress"`
}

// Automation returns the type as seen by the status-to-date rule.
// inprogress behaves like none.
func (t StatusType) Automation() StatusType {
	switch t {
	case StatusTypeStart, StatusTypeEnd:
		return t
	default:
		return StatusTypeNone
	}
}

func (t StatusType) Valid() bool {
	switch t {
	case StatusTypeNone, StatusTypeStart, StatusTypeEnd, StatusTypeInProgress:
		return true
	}
	return false
}

// IsEnd reports whether the status counts toward completion.
func (s StatusDef) IsEnd() bool {
	return s.Type == StatusTypeEnd
}

// FallbackStatus is the display used for a status id missing from the registry.
func FallbackStatus(id string) StatusDef {
	return StatusDef{ID: id, Label: id, Color: NeutralColor, Type: StatusTypeNone}
}

// NormalizeStatuses trims and validates a full status list.
func NormalizeStatuses(in []StatusDef) ([]StatusDef, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one status is required", ErrValidation)
	}
	out := make([]StatusDef, 0, len(in))
	seen := map[string]struct{}{}
	for i, s := range in {
		s.ID = strings.TrimSpace(s.ID)
		s.Label = strings.TrimSpace(s.Label)
		s.Color = strings.TrimSpace(s.Color)
		if s.ID == "" {
			return nil, fmt.Errorf("%w: statuses[%d].id is required", ErrValidation, i)
		}
		if _, ok := seen[s.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate status id %s", ErrValidation, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Label == "" {
			s.Label = s.ID
		}
		if s.Color == "" {
			s.Color = NeutralColor
		}
		if !hexColor.MatchString(s.Color) {
			return nil, fmt.Errorf("%w: status %s has invalid color %q", ErrValidation, s.ID, s.Color)
		}
		if s.Type == "" {
			s.Type = StatusTypeNone
		}
		if !s.Type.Valid() {
			return nil, fmt.Errorf("%w: status %s has invalid type %q", ErrValidation, s.ID, s.Type)
		}
		out = append(out, s)
	}
	return out, nil
}

// NormalizeDepartments trims and validates a full department list.
func NormalizeDepartments(in []Department) ([]Department, error) {
	out := make([]Department, 0, len(in))
	seen := map[string]struct{}{}
	for i, d := range in {
		d.ID = strings.TrimSpace(d.ID)
		d.Name = strings.TrimSpace(d.Name)
		if d.ID == "" {
			return nil, fmt.Errorf("%w: departments[%d].id is required", ErrValidation, i)
		}
		if _, ok := seen[d.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate department id %s", ErrValidation, d.ID)
		}
		seen[d.ID] = struct{}{}
		if d.Name == "" {
			d.Name = d.ID
		}
		out = append(out, d)
	}
	return out, nil
}
