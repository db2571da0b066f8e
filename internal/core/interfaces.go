package core

import (
	"time"

	"github.com/dkeye/callsignal/internal/domain"
)

//go:generate mockgen -source=signal_iface.go -destination=mocks/signal_mock.go -package=mocks

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnID
}

// JoinResult is returned by AddParticipant: the participant as stored and
// the roster right after the join, the participant included.
type JoinResult struct {
	Participant domain.Participant
	Roster      []domain.Participant
	Rejoined    bool
}

type RemoveResult struct {
	Removed     bool
	CallDeleted bool
	Workspace   domain.WorkspaceID
	Participant domain.Participant
	Remaining   int
}

// CallStore is the in-memory registry of active calls per workspace.
// It owns rosters but never touches transport resources.
type CallStore interface {
	CreateCall(ws domain.WorkspaceID, creatorID domain.UserID, creatorName string) (domain.Call, error)
	AddParticipant(id domain.CallID, conn domain.ConnID, user domain.UserID, name string) (JoinResult, error)
	SetPeerIdentity(id domain.CallID, conn domain.ConnID, peerID string) (domain.Participant, bool)
	RemoveParticipant(id domain.CallID, conn domain.ConnID) RemoveResult
	ListActiveCalls(ws domain.WorkspaceID) []domain.CallSummary
	GetRoster(id domain.CallID) ([]domain.Participant, error)
	Call(id domain.CallID) (domain.Call, bool)
	CallOf(conn domain.ConnID) (domain.CallID, bool)
	SweepPending(createdBefore time.Time) []domain.Call
}
