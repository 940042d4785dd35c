// Package dates does calendar-day arithmetic over YYYY-MM-DD strings.
// Values are interpreted as civil dates; instants never enter the picture.
package dates

import (
	"fmt"
	"strings"
	"time"
)

const Layout = "2006-01-02"

// Parse returns the day at UTC midnight.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Format renders the civil date of t in its own location.
func Format(t time.Time) string {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Format(Layout)
}

// Normalize accepts an empty string or a valid day and returns it trimmed.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, ok := Parse(s); !ok {
		return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return s, nil
}

// Today is the calendar date of now as observed in loc.
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return Format(now.In(loc))
}

// Midnight truncates t to its civil date at UTC midnight.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthBounds returns the first and last day of the month.
func MonthBounds(year int, month time.Month) (time.Time, time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first, last
}

// PreviousWeek returns Monday..Sunday of the week before the one containing today.
func PreviousWeek(today time.Time) (time.Time, time.Time) {
	return PreviousWeekFrom(today, time.Monday)
}

// PreviousWeekFrom is PreviousWeek for weeks beginning on weekStart.
func PreviousWeekFrom(today time.Time, weekStart time.Weekday) (time.Time, time.Time) {
	today = Midnight(today)
	offset := (int(today.Weekday()) - int(weekStart) + 7) % 7
	thisWeek := today.AddDate(0, 0, -offset)
	start := thisWeek.AddDate(0, 0, -7)
	return start, start.AddDate(0, 0, 6)
}

// ParseWeekday accepts an English weekday name; blank means Monday.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Monday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == s {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("unknown weekday %q", s)
}

// Within reports whether day lies in [from, to]; empty bounds are open.
func Within(day, from, to string) bool {
	if day == "" {
		return false
	}
	if from != "" && day < from {
		return false
	}
	if to != "" && day > to {
		return false
	}
	return true
}

// Each calls fn for every day in [start, end] inclusive.
func Each(start, end time.Time, fn func(time.Time)) {
	for d := Midnight(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		fn(d)
	}
}
