package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pdcaflow/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := Current(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 0, v)

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	latest, err := Latest()
	require.NoError(t, err)
	v, err = Current(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, latest, v)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name IN ('projects','actions','statuses','departments','users','events','preferences')`).Scan(&n))
	require.Equal(t, 7, n)
}
