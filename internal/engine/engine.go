package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"pdcaflow/internal/config"
	"pdcaflow/internal/dates"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/events"
	"pdcaflow/internal/filter"
	"pdcaflow/internal/registry"
	"pdcaflow/internal/repo"
)

// Notifier is told which collection scope changed after a commit.
type Notifier interface {
	Changed(kind domain.Collection, scope string)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, notifier Notifier) Engine {
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Config:   cfg,
		Notifier: notifier,
		Logger:   log.Default(),
		Now:      time.Now,
	}
	e.Events = events.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Today is the current calendar day in the configured time zone.
func (e Engine) Today() string {
	return dates.Today(e.now(), e.Config.Location())
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) notify(kind domain.Collection, scope string) {
	if e.Notifier != nil {
		e.Notifier.Changed(kind, scope)
	}
}

// withTx runs fn in a transaction and commits when it returns nil.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) statuses(ctx context.Context) (registry.Statuses, error) {
	list, err := e.Repo.ListStatuses(ctx)
	if err != nil {
		return registry.Statuses{}, fmt.Errorf("load statuses: %w", err)
	}
	return registry.NewStatuses(list), nil
}

func newID() string {
	return uuid.NewString()
}

func jsonString(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

// SaveStatuses replaces the whole status catalog.
func (e Engine) SaveStatuses(ctx context.Context, list []domain.StatusDef, actor auth.Principal) ([]domain.StatusDef, error) {
	if err := auth.RequireAdmin(actor, "save statuses"); err != nil {
		return nil, err
	}
	normalized, err := domain.NormalizeStatuses(list)
	if err != nil {
		return nil, err
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.ReplaceStatuses(ctx, tx, normalized); err != nil {
			return err
		}
		_, err := e.Events.Append(ctx, tx, events.Record{
			Type: events.StatusesSaved, EntityKind: string(domain.CollectionStatuses), ActorID: actor.UID,
			Payload: events.Payload{"count": len(normalized)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notify(domain.CollectionStatuses, "")
	return normalized, nil
}

// SaveDepartments replaces the whole department catalog.
func (e Engine) SaveDepartments(ctx context.Context, list []domain.Department, actor auth.Principal) ([]domain.Department, error) {
	if err := auth.RequireAdmin(actor, "save departments"); err != nil {
		return nil, err
	}
	normalized, err := domain.NormalizeDepartments(list)
	if err != nil {
		return nil, err
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.ReplaceDepartments(ctx, tx, normalized); err != nil {
			return err
		}
		_, err := e.Events.Append(ctx, tx, events.Record{
			Type: events.DepartmentsSaved, EntityKind: string(domain.CollectionDepartments), ActorID: actor.UID,
			Payload: events.Payload{"count": len(normalized)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notify(domain.CollectionDepartments, "")
	return normalized, nil
}

// UpsertUser creates or updates a profile. Non-admins may only edit
// themselves and never change their own role.
func (e Engine) UpsertUser(ctx context.Context, u domain.UserProfile, actor auth.Principal) (domain.UserProfile, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.Email = strings.TrimSpace(u.Email)
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	if u.ID == "" {
		return domain.UserProfile{}, validationf("user id is required")
	}
	if err := auth.CanEditUser(actor, u.ID); err != nil {
		return domain.UserProfile{}, err
	}
	u.Role = domain.ParseRole(string(u.Role))
	if !actor.IsAdmin() {
		existing, err := e.Repo.GetUser(ctx, u.ID)
		switch {
		case err == nil:
			u.Role = existing.Role
		case errors.Is(err, repo.ErrNotFound):
			u.Role = domain.RoleUser
		default:
			return domain.UserProfile{}, err
		}
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertUser(ctx, tx, u, e.timestamp()); err != nil {
			return err
		}
		_, err := e.Events.Append(ctx, tx, events.Record{
			Type: events.UserUpserted, EntityKind: "user", EntityID: u.ID, ActorID: actor.UID,
			Payload: events.Payload{"role": u.Role},
		})
		return err
	})
	if err != nil {
		return domain.UserProfile{}, err
	}
	e.notify(domain.CollectionUsers, "")
	return u, nil
}

func (e Engine) SetUserRole(ctx context.Context, uid string, role domain.Role, actor auth.Principal) error {
	if err := auth.RequireAdmin(actor, "change roles"); err != nil {
		return err
	}
	if role != domain.RoleAdmin && role != domain.RoleUser {
		return validationf("unknown role %q", role)
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.SetUserRole(ctx, tx, uid, role); err != nil {
			return err
		}
		_, err := e.Events.Append(ctx, tx, events.Record{
			Type: events.UserRoleChanged, EntityKind: "user", EntityID: uid, ActorID: actor.UID,
			Payload: events.Payload{"role": role},
		})
		return err
	})
	if err != nil {
		return err
	}
	e.notify(domain.CollectionUsers, "")
	return nil
}

// SavePreference stores the filters and columns a user chose for a view.
func (e Engine) SavePreference(ctx context.Context, actor auth.Principal, view filter.View, pref filter.Preference) (filter.Preference, error) {
	if actor.UID == "" {
		return pref, auth.ForbiddenError{Action: "save preferences"}
	}
	if _, err := filter.ParseView(string(view)); err != nil {
		return pref, err
	}
	if pref.Filters != nil {
		c, err := pref.Filters.Normalize()
		if err != nil {
			return pref, err
		}
		pref.Filters = &c
	}
	pref.Columns = domain.UniqueIDs(pref.Columns)
	raw, err := jsonString(pref)
	if err != nil {
		return pref, err
	}
	if err := e.Repo.PutPreference(ctx, actor.UID, string(view), raw, e.timestamp()); err != nil {
		return pref, err
	}
	return pref, nil
}

// LoadCriteria resolves the filters a view opens with: the saved preference
// if there is one, otherwise the view default.
func (e Engine) LoadCriteria(ctx context.Context, actor auth.Principal, view filter.View) (filter.Criteria, *filter.Preference, error) {
	viewer := filter.Viewer{UID: actor.UID, Admin: actor.IsAdmin()}
	raw, err := e.Repo.GetPreference(ctx, actor.UID, string(view))
	if errors.Is(err, repo.ErrNotFound) {
		return filter.Defaults(view, viewer), nil, nil
	}
	if err != nil {
		return filter.Criteria{}, nil, err
	}
	pref, err := filter.ParsePreference(raw)
	if err != nil {
		e.logger().Warn("ignoring unreadable preference", "user", actor.UID, "view", view, "err", err)
		return filter.Defaults(view, viewer), nil, nil
	}
	return filter.Resolve(view, viewer, &pref), &pref, nil
}
