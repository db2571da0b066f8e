package protocol

import (
	"time"

	"github.com/dkeye/callsignal/internal/domain"
)

// Outbound event names.
const (
	TypeActiveCallsList      = "active_calls_list"
	TypeCallCreated          = "call_created"
	TypeCallEnded            = "call_ended"
	TypeParticipantCount     = "call_participant_count_updated"
	TypeExistingParticipants = "existing_participants"
	TypeUserJoinedCall       = "user_joined_call"
	TypePeerIDShared         = "peer_id_shared"
	TypeUserLeftCall         = "user_left_call"
	TypeCallError            = "call_error"
	TypePresenceList         = "presence_list"
	TypePresenceUpdate       = "presence_update"
	TypeCallStatus           = "call_status"
	TypePong                 = "pong"
)

// call_error codes.
const (
	CodeCallNotFound     = "call_not_found"
	CodeBadPayload       = "bad_payload"
	CodeUnknownEvent     = "unknown_event"
	CodeRateLimited      = "rate_limited"
	CodeIdentityMismatch = "identity_mismatch"
	CodeInternal         = "internal"
)

type ActiveCallsList struct {
	WorkspaceSlug domain.WorkspaceID   `json:"workspaceSlug"`
	Calls         []domain.CallSummary `json:"calls"`
}

type CallCreated struct {
	CallID        domain.CallID      `json:"callId"`
	WorkspaceSlug domain.WorkspaceID `json:"workspaceSlug"`
	CreatorID     domain.UserID      `json:"creatorId"`
	CreatorName   string             `json:"creatorName"`
	CreatedAt     time.Time          `json:"createdAt"`
}

type CallEnded struct {
	CallID        domain.CallID      `json:"callId"`
	WorkspaceSlug domain.WorkspaceID `json:"workspaceSlug"`
}

type ParticipantCount struct {
	CallID           domain.CallID      `json:"callId"`
	WorkspaceSlug    domain.WorkspaceID `json:"workspaceSlug"`
	ParticipantCount int                `json:"participantCount"`
}

type ExistingParticipants struct {
	CallID       domain.CallID        `json:"callId"`
	Participants []domain.Participant `json:"participants"`
}

type UserJoinedCall struct {
	CallID      domain.CallID      `json:"callId"`
	Participant domain.Participant `json:"participant"`
}

type PeerIDShared struct {
	CallID       domain.CallID `json:"callId"`
	ConnectionID domain.ConnID `json:"connectionId"`
	UserID       domain.UserID `json:"userId"`
	PeerID       string        `json:"peerId"`
}

type UserLeftCall struct {
	CallID       domain.CallID `json:"callId"`
	ConnectionID domain.ConnID `json:"connectionId"`
	UserID       domain.UserID `json:"userId"`
	UserName     string        `json:"userName"`
}

type CallError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Event   string        `json:"event,omitempty"`
	CallID  domain.CallID `json:"callId,omitempty"`
}

type PresenceList struct {
	WorkspaceSlug domain.WorkspaceID     `json:"workspaceSlug"`
	Users         []domain.PresenceEntry `json:"users"`
}

type CallStatus struct {
	WorkspaceSlug    domain.WorkspaceID `json:"workspaceSlug"`
	Active           bool               `json:"active"`
	CallCount        int                `json:"callCount"`
	ParticipantCount int                `json:"participantCount"`
}
