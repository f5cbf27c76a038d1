package store

import "errors"

// Sentinel errors surfaced by store operations. The app layer maps
// these onto HTTP status codes; everything else is a server error.
var (
	ErrNotOwner            = errors.New("not the project creator")
	ErrAlreadyCollaborator = errors.New("already an accepted collaborator")
	ErrDuplicateRequest    = errors.New("request already pending")
	ErrNoPendingRequest    = errors.New("no pending request")
	ErrNotCollaborator     = errors.New("not an accepted collaborator")
	ErrAlreadyAssigned     = errors.New("task already assigned")
	ErrNotAssignee         = errors.New("not the task assignee")
	ErrEmailTaken          = errors.New("email already registered")
	ErrUsernameTaken       = errors.New("username already taken")
)
