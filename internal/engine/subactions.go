package engine

import (
	"context"
	"database/sql"
	"strings"

	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine/auth"
	"pdcaflow/internal/events"
	"pdcaflow/internal/repo"
)

type SubactionCreateOptions struct {
	// ID is optional; a uuid is generated when blank.
	ID            string
	Title         string
	Status        string
	AssignedUsers []string
}

// SubactionPatch updates the fields that are non-nil.
type SubactionPatch struct {
	Title         *string
	Status        *string
	AssignedUsers *[]string
}

// AddSubaction appends a sub-action and returns the updated parent.
func (e Engine) AddSubaction(ctx context.Context, projectID, actionID string, opts SubactionCreateOptions, actor auth.Principal) (domain.Action, error) {
	s := domain.Subaction{
		ID:            strings.TrimSpace(opts.ID),
		Title:         strings.TrimSpace(opts.Title),
		Status:        strings.TrimSpace(opts.Status),
		AssignedUsers: domain.UniqueIDs(opts.AssignedUsers),
	}
	if s.Title == "" {
		return domain.Action{}, validationf("sub-action title is required")
	}
	if s.ID == "" {
		s.ID = newID()
	}
	if s.Status == "" {
		s.Status = e.Config.DefaultStatus()
	}
	statuses, err := e.statuses(ctx)
	if err != nil {
		return domain.Action{}, err
	}
	if _, err := knownStatus(statuses, s.Status); err != nil {
		return domain.Action{}, err
	}
	return e.rewriteSubactions(ctx, projectID, actionID, actor, events.SubactionAdded, s.ID,
		func(list []domain.Subaction) ([]domain.Subaction, error) {
			if _, exists := domain.FindSubaction(list, s.ID); exists {
				return nil, validationf("sub-action %s already exists", s.ID)
			}
			return domain.AppendSubaction(list, s), nil
		})
}

// UpdateSubaction patches one sub-action. A status change runs the date rule
// on the sub-action's own dates.
func (e Engine) UpdateSubaction(ctx context.Context, projectID, actionID, subID string, patch SubactionPatch, actor auth.Principal) (domain.Action, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Action{}, validationf("sub-action title is required")
	}
	statuses, err := e.statuses(ctx)
	if err != nil {
		return domain.Action{}, err
	}
	var newStatus *domain.StatusDef
	if patch.Status != nil {
		def, err := knownStatus(statuses, *patch.Status)
		if err != nil {
			return domain.Action{}, err
		}
		newStatus = &def
	}
	today := e.Today()
	return e.rewriteSubactions(ctx, projectID, actionID, actor, events.SubactionUpdated, subID,
		func(list []domain.Subaction) ([]domain.Subaction, error) {
			out, found := domain.ReplaceSubaction(list, subID, func(s domain.Subaction) domain.Subaction {
				if patch.Title != nil {
					s.Title = strings.TrimSpace(*patch.Title)
				}
				if patch.AssignedUsers != nil {
					s.AssignedUsers = domain.UniqueIDs(*patch.AssignedUsers)
				}
				if newStatus != nil && newStatus.ID != s.Status {
					s = ApplySubactionStatus(s, *newStatus, today)
				}
				return s
			})
			if !found {
				return nil, repo.ErrNotFound
			}
			return out, nil
		})
}

func (e Engine) DeleteSubaction(ctx context.Context, projectID, actionID, subID string, actor auth.Principal) (domain.Action, error) {
	return e.rewriteSubactions(ctx, projectID, actionID, actor, events.SubactionDeleted, subID,
		func(list []domain.Subaction) ([]domain.Subaction, error) {
			out, found := domain.RemoveSubaction(list, subID)
			if !found {
				return nil, repo.ErrNotFound
			}
			return out, nil
		})
}

// rewriteSubactions reads the current list, applies transform and writes
// the whole list back.
func (e Engine) rewriteSubactions(ctx context.Context, projectID, actionID string, actor auth.Principal, evtType, subID string,
	transform func([]domain.Subaction) ([]domain.Subaction, error)) (domain.Action, error) {
	var out domain.Action
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.checkProjectEdit(ctx, tx, projectID, actor); err != nil {
			return err
		}
		a, err := e.Repo.GetActionTx(ctx, tx, projectID, actionID)
		if err != nil {
			return err
		}
		list, err := transform(a.Subactions)
		if err != nil {
			return err
		}
		a.Subactions = list
		a.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateAction(ctx, tx, a); err != nil {
			return err
		}
		out = a
		_, err = e.Events.Append(ctx, tx, events.Record{
			Type: evtType, ProjectID: projectID, EntityKind: "action", EntityID: actionID, ActorID: actor.UID,
			Payload: events.Payload{"subaction_id": subID},
		})
		return err
	})
	if err != nil {
		return domain.Action{}, err
	}
	e.notify(domain.CollectionActions, projectID)
	return out, nil
}
