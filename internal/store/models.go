package store

import "time"

type User struct {
	ID             string
	FullName       string
	Username       string
	Email          string
	PasswordHash   string
	AvatarKey      string
	ResetToken     string
	ResetExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Project statuses.
const (
	ProjectOngoing = "ongoing"
	ProjectDone    = "done"
)

type Project struct {
	ID              string
	CreatorID       string
	CreatorUsername string
	Title           string
	Description     string
	College         string
	Status          string
	UpvoteCount     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProjectRole is a named, countable position a project seeks to fill.
type ProjectRole struct {
	ID        string
	ProjectID string
	Name      string
	Count     int
}

// Collaborator statuses.
const (
	CollabPending  = "pending"
	CollabAccepted = "accepted"
	CollabDeclined = "declined"
)

type Collaborator struct {
	ID        string
	ProjectID string
	UserID    string
	Username  string
	AvatarKey string
	Status    string
	Role      string
	CreatedAt time.Time
}

// Task statuses. A task with no assignee is open; claiming moves it to
// assigned, and only the assignee advances it from there.
const (
	TaskOpen       = "open"
	TaskAssigned   = "assigned"
	TaskInProgress = "in-progress"
	TaskCompleted  = "completed"
)

type Task struct {
	ID        string
	ProjectID string
	Title     string
	UserID    *string
	Username  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Comment struct {
	ID        string
	ProjectID string
	UserID    string
	Username  string
	AvatarKey string
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleInput is a role supplied on project creation or update.
type RoleInput struct {
	Name  string
	Count int
}

// RoleUpdate renames or resizes an existing role.
type RoleUpdate struct {
	ID    string
	Name  string
	Count int
}

// ProjectPatch is the desired state applied by UpdateProject. Scalar
// fields overwrite unconditionally; the slices are reconciled against
// the project's owned collections.
type ProjectPatch struct {
	Title                 string
	Description           string
	College               string
	Status                string
	NewRoles              []RoleInput
	UpdatedRoles          []RoleUpdate
	RemovedRoleIDs        []string
	CollaboratorsToAdd    []string
	CollaboratorsToRemove []string
}

// ProjectDetail is the full read model returned for a single project.
type ProjectDetail struct {
	Project
	Roles         []ProjectRole
	Collaborators []Collaborator
	Tasks         []Task
}
