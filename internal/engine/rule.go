package engine

import "pdcaflow/internal/domain"

// applyStatusDates is the status-to-date rule. start overwrites the start
// date with today; end fills the actual end date only while it is empty;
// anything else leaves both alone.
func applyStatusDates(t domain.StatusType, today string, startDate, actualEndDate *string) {
	switch t.Automation() {
	case domain.StatusTypeStart:
		*startDate = today
	case domain.StatusTypeEnd:
		if *actualEndDate == "" {
			*actualEndDate = today
		}
	}
}

// ApplyStatus moves an action to def and applies the date rule.
func ApplyStatus(a domain.Action, def domain.StatusDef, today string) domain.Action {
	a.Status = def.ID
	applyStatusDates(def.Type, today, &a.StartDate, &a.ActualEndDate)
	return a
}

// ApplySubactionStatus is ApplyStatus for a sub-action.
func ApplySubactionStatus(s domain.Subaction, def domain.StatusDef, today string) domain.Subaction {
	s.Status = def.ID
	applyStatusDates(def.Type, today, &s.StartDate, &s.ActualEndDate)
	return s
}
