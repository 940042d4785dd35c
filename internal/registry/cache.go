package registry

import (
	"context"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/reconcile"
	"pdcaflow/internal/store"
)

// Cache keeps the three catalogs current through live subscriptions. Until a
// view is ready, reads fall through to a direct fetch.
type Cache struct {
	store       *store.Store
	statuses    *reconcile.View[domain.StatusDef]
	departments *reconcile.View[domain.Department]
	users       *reconcile.View[domain.UserProfile]
}

func NewCache(s *store.Store) *Cache {
	global := ""
	return &Cache{
		store:       s,
		statuses:    reconcile.NewView(store.Source[domain.StatusDef](s, domain.CollectionStatuses), &global),
		departments: reconcile.NewView(store.Source[domain.Department](s, domain.CollectionDepartments), &global),
		users:       reconcile.NewView(store.Source[domain.UserProfile](s, domain.CollectionUsers), &global),
	}
}

func (c *Cache) Statuses(ctx context.Context) (Statuses, error) {
	list, err := readThrough(ctx, c.store, c.statuses, domain.CollectionStatuses)
	if err != nil {
		return Statuses{}, err
	}
	return NewStatuses(list), nil
}

func (c *Cache) Departments(ctx context.Context) (Departments, error) {
	list, err := readThrough(ctx, c.store, c.departments, domain.CollectionDepartments)
	if err != nil {
		return Departments{}, err
	}
	return NewDepartments(list), nil
}

func (c *Cache) Users(ctx context.Context) (Users, error) {
	list, err := readThrough(ctx, c.store, c.users, domain.CollectionUsers)
	if err != nil {
		return Users{}, err
	}
	return NewUsers(list), nil
}

// Close ends the underlying subscriptions.
func (c *Cache) Close() {
	c.statuses.Close()
	c.departments.Close()
	c.users.Close()
}

func readThrough[T any](ctx context.Context, s *store.Store, v *reconcile.View[T], kind domain.Collection) ([]T, error) {
	snap := v.Snapshot()
	if snap.State == reconcile.Ready {
		return snap.Items, nil
	}
	raw, err := s.Fetch(ctx, kind, "")
	if err != nil {
		return nil, err
	}
	items, _ := raw.([]T)
	return items, nil
}
