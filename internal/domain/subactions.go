package domain

import "strings"

// AppendSubaction returns a new list with s added at the end.
func AppendSubaction(list []Subaction, s Subaction) []Subaction {
	out := make([]Subaction, 0, len(list)+1)
	out = append(out, list...)
	return append(out, s)
}

// ReplaceSubaction maps the entry with the given id through fn.
// The second result is false when no entry matched.
func ReplaceSubaction(list []Subaction, id string, fn func(Subaction) Subaction) ([]Subaction, bool) {
	out := make([]Subaction, len(list))
	found := false
	for i, s := range list {
		if s.ID == id {
			s = fn(s)
			found = true
		}
		out[i] = s
	}
	return out, found
}

// RemoveSubaction filters out the entry with the given id.
func RemoveSubaction(list []Subaction, id string) ([]Subaction, bool) {
	out := make([]Subaction, 0, len(list))
	found := false
	for _, s := range list {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	return out, found
}

// FindSubaction returns the entry with the given id.
func FindSubaction(list []Subaction, id string) (Subaction, bool) {
	for _, s := range list {
		if s.ID == id {
			return s, true
		}
	}
	return Subaction{}, false
}

// UniqueIDs trims ids, drops blanks and duplicates, and keeps first-seen order.
func UniqueIDs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, raw := range in {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
