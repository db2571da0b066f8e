package domain

import "errors"

const MaxWorkspaceLen = 128

var (
	ErrWorkspaceEmpty   = errors.New("workspace slug empty")
	ErrWorkspaceTooLong = errors.New("workspace slug too long")
)

// WorkspaceID is a workspace slug. It is also the broadcast room name
// every connection of that workspace joins.
type WorkspaceID string

func ValidateWorkspace(ws WorkspaceID) error {
	if len(ws) == 0 {
		return ErrWorkspaceEmpty
	}
	if len(ws) > MaxWorkspaceLen {
		return ErrWorkspaceTooLong
	}
	return nil
}

// ConnID identifies one live transport connection.
type ConnID string

// PresenceEntry marks a user online in a workspace.
type PresenceEntry struct {
	UserID   UserID `json:"userId"`
	UserName string `json:"userName"`
}
