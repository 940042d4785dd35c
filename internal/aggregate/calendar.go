package aggregate

import (
	"time"

	"pdcaflow/internal/dates"
	"pdcaflow/internal/domain"
)

// Calendar maps each day of a month (YYYY-MM-DD) to the actions active on it.
type Calendar struct {
	Year  int                        `json:"year"`
	Month int                        `json:"month"`
	Days  map[string][]domain.Action `json:"days"`
}

// Day returns the actions bucketed on day, in input order.
func (c Calendar) Day(day string) []domain.Action {
	return c.Days[day]
}

// Span is the effective date range of an action on the calendar.
// Real dates win over proposed ones. With only one side known the
// range collapses to that day.
func Span(a domain.Action) (start, end time.Time, ok bool) {
	startRaw := firstNonEmpty(a.StartDate, a.ProposedStartDate)
	endRaw := firstNonEmpty(a.ActualEndDate, a.ProposedEndDate)
	s, hasStart := dates.Parse(startRaw)
	e, hasEnd := dates.Parse(endRaw)
	switch {
	case hasStart && hasEnd:
		if e.Before(s) {
			s, e = e, s
		}
		return s, e, true
	case hasStart:
		return s, s, true
	case hasEnd:
		return e, e, true
	}
	return time.Time{}, time.Time{}, false
}

// CalendarMonth buckets actions into every day of their span clipped to the month.
// Actions without any date are left out.
func CalendarMonth(year int, month time.Month, actions []domain.Action) Calendar {
	cal := Calendar{Year: year, Month: int(month), Days: map[string][]domain.Action{}}
	first, last := dates.MonthBounds(year, month)
	for _, a := range actions {
		start, end, ok := Span(a)
		if !ok || end.Before(first) || start.After(last) {
			continue
		}
		if start.Before(first) {
			start = first
		}
		if end.After(last) {
			end = last
		}
		dates.Each(start, end, func(d time.Time) {
			key := dates.Format(d)
			cal.Days[key] = append(cal.Days[key], a)
		})
	}
	return cal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
