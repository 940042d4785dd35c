// Package store exposes fetch and subscribe over the five collections.
// Subscribers receive full snapshots; writes made through the engine are
// echoed back via Changed.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/reconcile"
	"pdcaflow/internal/repo"
)

type Store struct {
	Repo   repo.Repo
	Logger *log.Logger

	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscription
}

type subscription struct {
	kind  domain.Collection
	scope string
	dirty chan struct{}
	done  chan struct{}
	once  sync.Once
}

func New(r repo.Repo, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{Repo: r, Logger: logger, subs: map[uint64]*subscription{}}
}

// Fetch returns the current contents of a collection. The concrete slice
// type depends on kind.
//
// projects: scope is a user id (projects they created or are assigned to) or empty for all.
// actions: scope is a project id or empty for every non-archived project.
// statuses, departments, users: scope is ignored.
func (s *Store) Fetch(ctx context.Context, kind domain.Collection, scope string) (any, error) {
	switch kind {
	case domain.CollectionProjects:
		return s.Repo.ListProjects(ctx, repo.ProjectFilters{Member: scope})
	case domain.CollectionActions:
		return s.Repo.ListActions(ctx, repo.ActionFilters{ProjectID: scope})
	case domain.CollectionStatuses:
		return s.Repo.ListStatuses(ctx)
	case domain.CollectionDepartments:
		return s.Repo.ListDepartments(ctx)
	case domain.CollectionUsers:
		return s.Repo.ListUsers(ctx)
	}
	return nil, fmt.Errorf("%w: unknown collection %q", domain.ErrValidation, kind)
}

// Subscribe delivers a snapshot right away and again after every change
// to the collection. Deliveries for one subscription never overlap. A fetch
// error is reported once through onError and ends the subscription.
// The returned func unsubscribes and may be called any number of times.
func (s *Store) Subscribe(kind domain.Collection, scope string, onSnapshot func(any), onError func(error)) func() {
	sub := &subscription{
		kind:  kind,
		scope: scope,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	sub.dirty <- struct{}{}

	s.mu.Lock()
	if s.subs == nil {
		s.subs = map[uint64]*subscription{}
	}
	s.next++
	id := s.next
	s.subs[id] = sub
	s.mu.Unlock()

	unsubscribe := func() {
		sub.once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.done)
		})
	}
	go s.run(sub, onSnapshot, onError, unsubscribe)
	return unsubscribe
}

func (s *Store) run(sub *subscription, onSnapshot func(any), onError func(error), unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sub.done
		cancel()
	}()
	for {
		select {
		case <-sub.done:
			return
		case <-sub.dirty:
		}
		items, err := s.Fetch(ctx, sub.kind, sub.scope)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.Logger.Warn("subscription fetch failed", "kind", sub.kind, "scope", sub.scope, "err", err)
			unsubscribe()
			if onError != nil {
				onError(err)
			}
			return
		}
		if onSnapshot != nil {
			onSnapshot(items)
		}
	}
}

// Changed marks matching subscriptions dirty. An empty scope on either side
// matches every scope of that kind.
func (s *Store) Changed(kind domain.Collection, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.kind != kind {
			continue
		}
		if scope != "" && sub.scope != "" && sub.scope != scope {
			continue
		}
		select {
		case sub.dirty <- struct{}{}:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Source adapts a collection to a reconcile.Source of its element type.
func Source[T any](s *Store, kind domain.Collection) reconcile.Source[T] {
	return func(scope string, deliver func([]T), fail func(error)) func() {
		return s.Subscribe(kind, scope, func(v any) {
			items, ok := v.([]T)
			if !ok {
				fail(fmt.Errorf("collection %s delivered %T", kind, v))
				return
			}
			deliver(items)
		}, fail)
	}
}
