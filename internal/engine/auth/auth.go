// Package auth holds the admin-versus-user gating used by the engine.
package auth

import (
	"fmt"

	"pdcaflow/internal/domain"
)

// Principal is the caller of an engine operation.
type Principal struct {
	UID  string
	Role domain.Role
}

// System is the principal used by local CLI commands.
func System() Principal {
	return Principal{UID: "system", Role: domain.RoleAdmin}
}

func (p Principal) IsAdmin() bool {
	return p.Role == domain.RoleAdmin
}

// ForbiddenError indicates the principal may not perform an operation.
type ForbiddenError struct {
	Action string
	UID    string
}

func (e ForbiddenError) Error() string {
	if e.UID == "" {
		return fmt.Sprintf("%s requires authentication", e.Action)
	}
	return fmt.Sprintf("user %s may not %s", e.UID, e.Action)
}

func RequireAdmin(p Principal, action string) error {
	if p.IsAdmin() {
		return nil
	}
	return ForbiddenError{Action: action, UID: p.UID}
}

// CanEditProject allows admins, the creator and assigned users.
func CanEditProject(p Principal, project domain.Project) error {
	if p.IsAdmin() || project.HasMember(p.UID) {
		return nil
	}
	return ForbiddenError{Action: "edit project " + project.ID, UID: p.UID}
}

// CanDeleteProject allows admins and the creator.
func CanDeleteProject(p Principal, project domain.Project) error {
	if p.IsAdmin() || (p.UID != "" && project.CreatedBy == p.UID) {
		return nil
	}
	return ForbiddenError{Action: "delete or archive project " + project.ID, UID: p.UID}
}

// CanEditUser allows admins and the user themselves.
func CanEditUser(p Principal, uid string) error {
	if p.IsAdmin() || (p.UID != "" && p.UID == uid) {
		return nil
	}
	return ForbiddenError{Action: "edit user " + uid, UID: p.UID}
}
