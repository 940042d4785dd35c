package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdcaflow/internal/db"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/migrate"
	"pdcaflow/internal/repo"
	"pdcaflow/internal/store"
)

func TestStatusLookupIsTotal(t *testing.T) {
	s := NewStatuses([]domain.StatusDef{
		{ID: "finalizado", Label: "Finalizado", Color: "#00ff00", Type: domain.StatusTypeEnd},
	})
	assert.True(t, s.IsEnd("finalizado"))

	got := s.Lookup("borrado")
	assert.Equal(t, "borrado", got.Label)
	assert.Equal(t, domain.NeutralColor, got.Color)
	assert.Equal(t, domain.StatusTypeNone, got.Type)
	assert.False(t, s.Known("borrado"))
}

func TestDisplayFallbacks(t *testing.T) {
	users := NewUsers([]domain.UserProfile{
		{ID: "u1", DisplayName: "Ana"},
		{ID: "u2", Email: "bo@example.com"},
	})
	assert.Equal(t, "Ana", users.Display("u1"))
	assert.Equal(t, "bo@example.com", users.Display("u2"))
	assert.Equal(t, "ghost", users.Display("ghost"))

	depts := NewDepartments([]domain.Department{{ID: "d1", Name: "Calidad"}})
	assert.Equal(t, "Calidad", depts.Name("d1"))
	assert.Equal(t, "gone", depts.Name("gone"))
}

func TestCacheReadsThrough(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(ctx, conn))
	r := repo.Repo{DB: conn}
	require.NoError(t, r.ReplaceStatuses(ctx, nil, []domain.StatusDef{{ID: "a", Label: "A", Color: "#000", Type: domain.StatusTypeNone}}))

	c := NewCache(store.New(r, nil))
	defer c.Close()
	statuses, err := c.Statuses(ctx)
	require.NoError(t, err)
	assert.True(t, statuses.Known("a"))
}
