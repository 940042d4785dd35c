package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdcaflow/internal/db"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/migrate"
	"pdcaflow/internal/reconcile"
	"pdcaflow/internal/repo"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return New(repo.Repo{DB: conn}, nil)
}

func insertProject(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.Repo.InsertProject(context.Background(), nil, domain.Project{
		ID: id, Title: id, AssignedUsers: []string{"u1"}, AssignedDepartments: []string{"d1"},
		CreatedBy: "u1", CreatedAt: "2024-03-01T00:00:00Z",
	}))
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func TestSubscribeDeliversInitialAndChangedSnapshots(t *testing.T) {
	s := newTestStore(t)
	insertProject(t, s, "p1")

	got := make(chan []domain.Action, 4)
	unsubscribe := s.Subscribe(domain.CollectionActions, "p1", func(v any) {
		got <- v.([]domain.Action)
	}, func(err error) { t.Errorf("unexpected error: %v", err) })
	defer unsubscribe()

	assert.Empty(t, waitFor(t, got))

	require.NoError(t, s.Repo.InsertAction(context.Background(), nil, domain.Action{
		ID: "a1", ProjectID: "p1", SeqID: 1, Action: "do", Status: "pendiente",
	}))
	s.Changed(domain.CollectionActions, "p1")
	items := waitFor(t, got)
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].ID)
}

func TestChangedIgnoresOtherScopes(t *testing.T) {
	s := newTestStore(t)
	got := make(chan any, 4)
	unsubscribe := s.Subscribe(domain.CollectionActions, "p1", func(v any) { got <- v }, nil)
	defer unsubscribe()
	waitFor(t, got)

	s.Changed(domain.CollectionActions, "p2")
	s.Changed(domain.CollectionProjects, "")
	select {
	case <-got:
		t.Fatal("unexpected delivery")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	unsubscribe := s.Subscribe(domain.CollectionStatuses, "", func(any) {}, nil)
	assert.Equal(t, 1, s.Subscribers())
	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, s.Subscribers())
}

func TestUnknownCollectionFailsSubscription(t *testing.T) {
	s := newTestStore(t)
	errs := make(chan error, 1)
	s.Subscribe(domain.Collection("widgets"), "", func(any) { t.Error("no snapshot expected") }, func(err error) { errs <- err })
	err := waitFor(t, errs)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, s.Subscribers())
}

func TestSourceFeedsReconcileView(t *testing.T) {
	s := newTestStore(t)
	insertProject(t, s, "p1")
	scope := "u1"
	v := reconcile.NewView(Source[domain.Project](s, domain.CollectionProjects), &scope)
	defer v.Close()

	deadline := time.After(2 * time.Second)
	for v.State() != reconcile.Ready {
		select {
		case <-v.Changes():
		case <-deadline:
			t.Fatal("view never became ready")
		}
	}
	snap := v.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "p1", snap.Items[0].ID)
}
