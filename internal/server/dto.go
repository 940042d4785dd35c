package server

import (
	"pdcaflow/internal/domain"
)

// Request payloads. Optional fields carry omitempty so huma does not mark
// them required; presence in PATCH bodies is read from the raw body.

type CreateProjectRequest struct {
	Title               string   `json:"title" minLength:"1"`
	Description         string   `json:"description,omitempty"`
	AssignedUsers       []string `json:"assigned_users"`
	AssignedDepartments []string `json:"assigned_departments"`
}

type UpdateProjectRequest struct {
	Title               *string  `json:"title,omitempty"`
	Description         *string  `json:"description,omitempty"`
	AssignedUsers       []string `json:"assigned_users,omitempty"`
	AssignedDepartments []string `json:"assigned_departments,omitempty"`
}

type CreateActionRequest struct {
	Action            string   `json:"action" minLength:"1"`
	AssignedUsers     []string `json:"assigned_users,omitempty"`
	Status            string   `json:"status,omitempty"`
	ProposedStartDate string   `json:"proposed_start_date,omitempty"`
	ProposedEndDate   string   `json:"proposed_end_date,omitempty"`
	StartDate         string   `json:"start_date,omitempty"`
	ActualEndDate     string   `json:"actual_end_date,omitempty"`
	Observations      string   `json:"observations,omitempty"`
	Priority          bool     `json:"priority,omitempty"`
}

type UpdateActionRequest struct {
	Action            *string  `json:"action,omitempty"`
	AssignedUsers     []string `json:"assigned_users,omitempty"`
	Status            *string  `json:"status,omitempty"`
	ProposedStartDate *string  `json:"proposed_start_date,omitempty"`
	ProposedEndDate   *string  `json:"proposed_end_date,omitempty"`
	StartDate         *string  `json:"start_date,omitempty"`
	ActualEndDate     *string  `json:"actual_end_date,omitempty"`
	Observations      *string  `json:"observations,omitempty"`
	Priority          *bool    `json:"priority,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" minLength:"1"`
}

type CreateSubactionRequest struct {
	ID            string   `json:"id,omitempty"`
	Title         string   `json:"title" minLength:"1"`
	Status        string   `json:"status,omitempty"`
	AssignedUsers []string `json:"assigned_users,omitempty"`
}

type UpdateSubactionRequest struct {
	Title         *string  `json:"title,omitempty"`
	Status        *string  `json:"status,omitempty"`
	AssignedUsers []string `json:"assigned_users,omitempty"`
}

type SaveStatusesRequest struct {
	Statuses []domain.StatusDef `json:"statuses"`
}

type SaveDepartmentsRequest struct {
	Departments []domain.Department `json:"departments"`
}

type UpsertUserRequest struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty" enum:"user,admin"`
}

type SetRoleRequest struct {
	Role string `json:"role" enum:"user,admin"`
}

type DevLoginRequest struct {
	UID  string `json:"uid" minLength:"1"`
	Role string `json:"role,omitempty" enum:"user,admin"`
}

// Responses

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type MeResponse struct {
	UID         string      `json:"uid"`
	Role        domain.Role `json:"role"`
	Email       string      `json:"email,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`
}

type CreatedAction struct {
	ID     string        `json:"id"`
	SeqID  int           `json:"seq_id"`
	Action domain.Action `json:"action"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func listOf[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items}
}
