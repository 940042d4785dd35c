package domain

// Collection names the five entity collections exposed by the store.
type Collection string

const (
	CollectionProjects    Collection = "projects"
	CollectionActions     Collection = "actions"
	CollectionStatuses    Collection = "statuses"
	CollectionDepartments Collection = "departments"
	CollectionUsers       Collection = "users"
)

// Collections lists every collection kind in a stable order.
var Collections = []Collection{
	CollectionProjects,
	CollectionActions,
	CollectionStatuses,
	CollectionDepartments,
	CollectionUsers,
}

type Project struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	AssignedUsers       []string `json:"assigned_users"`
	AssignedDepartments []string `json:"assigned_departments"`
	CreatedBy           string   `json:"created_by"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
	Archived            bool     `json:"archived"`
	Deleting            bool     `json:"deleting,omitempty"`
}

// HasMember reports whether uid created the project or is assigned to it.
func (p Project) HasMember(uid string) bool {
	if uid == "" {
		return false
	}
	if p.CreatedBy == uid {
		return true
	}
	for _, u := range p.AssignedUsers {
		if u == uid {
			return true
		}
	}
	return false
}

type Action struct {
	ID                string      `json:"id"`
	ProjectID         string      `json:"project_id"`
	SeqID             int         `json:"seq_id"`
	Action            string      `json:"action"`
	AssignedUsers     []string    `json:"assigned_users"`
	Status            string      `json:"status"`
	ProposedStartDate string      `json:"proposed_start_date,omitempty"`
	ProposedEndDate   string      `json:"proposed_end_date,omitempty"`
	StartDate         string      `json:"start_date,omitempty"`
	ActualEndDate     string      `json:"actual_end_date,omitempty"`
	Observations      string      `json:"observations,omitempty"`
	Priority          bool        `json:"priority"`
	Subactions        []Subaction `json:"subactions"`
	CreatedAt         string      `json:"created_at" format:"date-time"`
	UpdatedAt         string      `json:"updated_at" format:"date-time"`
}

// AssignedTo reports whether uid is one of the action's assignees.
func (a Action) AssignedTo(uid string) bool {
	for _, u := range a.AssignedUsers {
		if u == uid {
			return true
		}
	}
	return false
}

type Subaction struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	AssignedUsers []string `json:"assigned_users"`
	StartDate     string   `json:"start_date,omitempty"`
	ActualEndDate string   `json:"actual_end_date,omitempty"`
}

type Department struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps free-form input to a role; anything but admin is a plain user.
func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

type UserProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        Role   `json:"role" enum:"user,admin"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
