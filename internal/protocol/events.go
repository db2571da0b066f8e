// Package protocol is the signaling wire format: a JSON envelope
// {"type": ..., "payload": ...} in both directions.
package protocol

// Inbound event names.
const (
	TypeJoinWorkspace  = "join_workspace"
	TypeGetActiveCalls = "get_active_calls"
	TypeCreateCall     = "create_call"
	TypeJoinCall       = "join_call"
	TypeSharePeerID    = "share_peer_id"
	TypeLeaveCall      = "leave_call"
	TypeGetCallStatus  = "get_call_status"
	TypeUserOnline     = "user_online"
	TypeUserOffline    = "user_offline"
	TypeGetPresence    = "get_presence"
	TypePing           = "ping"
)

// userId and userName may be omitted on an authenticated connection; the
// bound identity fills them in. Name limits match domain.MaxUsernameLen.

// Event is one decoded and validated inbound event.
type Event interface {
	Type() string
	isEvent()
}

type JoinWorkspace struct {
	WorkspaceSlug string `json:"workspaceSlug" validate:"required,max=128"`
}

type GetActiveCalls struct {
	WorkspaceSlug string `json:"workspaceSlug" validate:"required,max=128"`
}

type CreateCall struct {
	WorkspaceSlug string `json:"workspaceSlug" validate:"required,max=128"`
	UserID        string `json:"userId" validate:"omitempty,max=128"`
	UserName      string `json:"userName" validate:"omitempty,max=64"`
}

type JoinCall struct {
	CallID        string `json:"callId" validate:"required,max=64"`
	WorkspaceSlug string `json:"workspaceSlug" validate:"required,max=128"`
	UserID        string `json:"userId" validate:"omitempty,max=128"`
	UserName      string `json:"userName" validate:"omitempty,max=64"`
	PeerID        string `json:"peerId" validate:"max=256"`
}

type SharePeerID struct {
	CallID string `json:"callId" validate:"required,max=64"`
	PeerID string `json:"peerId" validate:"required,max=256"`
}

type LeaveCall struct {
	CallID string `json:"callId" validate:"required,max=64"`
}

type GetCallStatus struct {
	WorkspaceSlug string `json:"workspaceSlug" validate:"required,max=128"`
}

type UserOnline struct {
	WorkspaceSlug string `json:"workspaceSlug" validate:"required,max=128"`
	UserID        string `json:"userId" validate:"omitempty,max=128"`
	UserName      string `json:"userName" validate:"omitempty,max=64"`
}

type UserOffline struct {
	WorkspaceSlug string `json:"workspaceSlug" validate:"required,max=128"`
	UserID        string `json:"userId" validate:"omitempty,max=128"`
}

type GetPresence struct {
	WorkspaceSlug string `json:"workspaceSlug" validate:"required,max=128"`
}

type Ping struct{}

func (JoinWorkspace) Type() string  { return TypeJoinWorkspace }
func (GetActiveCalls) Type() string { return TypeGetActiveCalls }
func (CreateCall) Type() string     { return TypeCreateCall }
func (JoinCall) Type() string       { return TypeJoinCall }
func (SharePeerID) Type() string    { return TypeSharePeerID }
func (LeaveCall) Type() string      { return TypeLeaveCall }
func (GetCallStatus) Type() string  { return TypeGetCallStatus }
func (UserOnline) Type() string     { return TypeUserOnline }
func (UserOffline) Type() string    { return TypeUserOffline }
func (GetPresence) Type() string    { return TypeGetPresence }
func (Ping) Type() string           { return TypePing }

func (JoinWorkspace) isEvent()  {}
func (GetActiveCalls) isEvent() {}
func (CreateCall) isEvent()     {}
func (JoinCall) isEvent()       {}
func (SharePeerID) isEvent()    {}
func (LeaveCall) isEvent()      {}
func (GetCallStatus) isEvent()  {}
func (UserOnline) isEvent()     {}
func (UserOffline) isEvent()    {}
func (GetPresence) isEvent()    {}
func (Ping) isEvent()           {}
