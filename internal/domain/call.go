package domain

import (
	"errors"
	"time"
)

var (
	ErrCallNotFound   = errors.New("call not found")
	ErrAlreadyInCall  = errors.New("connection already in another call")
	ErrNotInWorkspace = errors.New("connection has not joined workspace")
)

type CallID string

// Call is one active video call in a workspace. The roster lives in the
// call store, not here.
type Call struct {
	ID          CallID      `json:"callId"`
	Workspace   WorkspaceID `json:"workspaceSlug"`
	CreatorID   UserID      `json:"creatorId"`
	CreatorName string      `json:"creatorName"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Participant binds one connection and user to a call.
// PeerID stays empty until the client's media layer shares it.
type Participant struct {
	ConnID   ConnID    `json:"connectionId"`
	UserID   UserID    `json:"userId"`
	UserName string    `json:"userName"`
	PeerID   string    `json:"peerId,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

type CallSummary struct {
	CallID           CallID    `json:"callId"`
	CreatorName      string    `json:"creatorName"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
}
