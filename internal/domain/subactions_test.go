package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubactionTransformsArePure(t *testing.T) {
	base := []Subaction{{ID: "a", Title: "one"}, {ID: "b", Title: "two"}}

	added := AppendSubaction(base, Subaction{ID: "c", Title: "three"})
	require.Len(t, added, 3)
	assert.Len(t, base, 2)
	assert.Equal(t, "c", added[2].ID)

	renamed, ok := ReplaceSubaction(base, "b", func(s Subaction) Subaction {
		s.Title = "TWO"
		return s
	})
	require.True(t, ok)
	assert.Equal(t, "TWO", renamed[1].Title)
	assert.Equal(t, "two", base[1].Title)

	_, ok = ReplaceSubaction(base, "missing", func(s Subaction) Subaction { return s })
	assert.False(t, ok)

	removed, ok := RemoveSubaction(base, "a")
	require.True(t, ok)
	assert.Equal(t, []Subaction{{ID: "b", Title: "two"}}, removed)
	assert.Len(t, base, 2)
}

func TestUniqueIDs(t *testing.T) {
	assert.Equal(t, []string{"u1", "u2"}, UniqueIDs([]string{" u1", "u2", "", "u1 "}))
	assert.Empty(t, UniqueIDs(nil))
}

func TestNormalizeStatuses(t *testing.T) {
	_, err := NormalizeStatuses(nil)
	require.ErrorIs(t, err, ErrValidation)

	out, err := NormalizeStatuses([]StatusDef{{ID: " pendiente "}, {ID: "hecho", Label: "Hecho", Color: "#00ff00", Type: StatusTypeEnd}})
	require.NoError(t, err)
	assert.Equal(t, StatusDef{ID: "pendiente", Label: "pendiente", Color: NeutralColor, Type: StatusTypeNone}, out[0])

	_, err = NormalizeStatuses([]StatusDef{{ID: "x", Type: "later"}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NormalizeStatuses([]StatusDef{{ID: "x", Color: "red"}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NormalizeStatuses([]StatusDef{{ID: "x"}, {ID: "x"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestInProgressAutomatesAsNone(t *testing.T) {
	assert.Equal(t, StatusTypeNone, StatusTypeInProgress.Automation())
	assert.Equal(t, StatusTypeStart, StatusTypeStart.Automation())
	assert.Equal(t, StatusTypeEnd, StatusTypeEnd.Automation())
}
