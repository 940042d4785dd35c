package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/reconcile"
	"pdcaflow/internal/store"
)

const wsWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		host := strings.TrimSpace(r.Host)
		return strings.Contains(origin, "://"+host)
	},
}

// Frame is one message on the subscribe stream. Items is the full working
// set; every frame replaces the previous one.
type Frame struct {
	Kind  domain.Collection `json:"kind"`
	Scope string            `json:"scope"`
	State string            `json:"state"`
	Items any               `json:"items"`
	Error string            `json:"error,omitempty"`
}

type subscriber struct {
	engine engine.Engine
	store  *store.Store
	logger *log.Logger
}

// handle serves GET /subscribe?kind=&scope=.
func (s *subscriber) handle(w http.ResponseWriter, r *http.Request) {
	principal, authErr := principalFromRequest(r.Context())
	if authErr != nil {
		respondStatusError(w, authErr)
		return
	}
	kind := domain.Collection(r.URL.Query().Get("kind"))
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	scope, err := s.authorize(r.Context(), principal, kind, scope)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reads only serve to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("subscribe", "uid", principal.UID, "kind", kind, "scope", scope)
	switch kind {
	case domain.CollectionProjects:
		err = stream(ctx, conn, store.Source[domain.Project](s.store, kind), kind, scope)
	case domain.CollectionActions:
		err = stream(ctx, conn, store.Source[domain.Action](s.store, kind), kind, scope)
	case domain.CollectionStatuses:
		err = stream(ctx, conn, store.Source[domain.StatusDef](s.store, kind), kind, scope)
	case domain.CollectionDepartments:
		err = stream(ctx, conn, store.Source[domain.Department](s.store, kind), kind, scope)
	case domain.CollectionUsers:
		err = stream(ctx, conn, store.Source[domain.UserProfile](s.store, kind), kind, scope)
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("stream ended", "kind", kind, "scope", scope, "err", err)
	}
	s.logger.Debug("unsubscribe", "uid", principal.UID, "kind", kind, "scope", scope)
}

// authorize checks the requested scope and returns the scope to stream.
// Non-admins get their own projects and the actions of projects they belong to.
func (s *subscriber) authorize(ctx context.Context, p auth.Principal, kind domain.Collection, scope string) (string, error) {
	switch kind {
	case domain.CollectionProjects:
		if p.IsAdmin() {
			return scope, nil
		}
		if scope == "" {
			return p.UID, nil
		}
		if scope != p.UID {
			return "", auth.ForbiddenError{Action: "subscribe to projects of " + scope, UID: p.UID}
		}
		return scope, nil
	case domain.CollectionActions:
		if scope == "" {
			return "", auth.RequireAdmin(p, "subscribe to all actions")
		}
		_, err := s.engine.Project(ctx, p, scope)
		return scope, err
	case domain.CollectionStatuses, domain.CollectionDepartments, domain.CollectionUsers:
		return "", nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", domain.ErrValidation, kind)
}

// stream pushes the view's snapshots until the client leaves or the source fails.
// The first frame always reports loading.
func stream[T any](ctx context.Context, conn *websocket.Conn, src reconcile.Source[T], kind domain.Collection, scope string) error {
	view := reconcile.NewView(src, &scope)
	defer view.Close()

	if err := writeFrame(conn, Frame{Kind: kind, Scope: scope, State: reconcile.Loading.String(), Items: []T{}}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-view.Changes():
			if !ok {
				return nil
			}
			snap := view.Snapshot()
			if snap.State == reconcile.Loading {
				continue
			}
			frame := Frame{Kind: kind, Scope: scope, State: snap.State.String(), Items: snap.Items}
			if snap.Err != nil {
				frame.Error = snap.Err.Error()
			}
			if err := writeFrame(conn, frame); err != nil {
				return err
			}
			if snap.State == reconcile.Failed {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
					time.Now().Add(wsWriteTimeout))
				return snap.Err
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(f)
}
