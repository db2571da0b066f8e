package orch

import (
	"errors"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/protocol"
	"github.com/rs/zerolog/log"
)

type leaveReason string

const (
	reasonLeave      leaveReason = "leave"
	reasonSwitch     leaveReason = "switch"
	reasonDisconnect leaveReason = "disconnect"
)

func (o *Orchestrator) GetActiveCalls(conn domain.ConnID, ws domain.WorkspaceID) {
	if !o.inWorkspace(conn, ws, protocol.TypeGetActiveCalls) {
		return
	}
	o.reply(conn, protocol.TypeActiveCallsList, protocol.ActiveCallsList{
		WorkspaceSlug: ws,
		Calls:         o.Calls.ListActiveCalls(ws),
	})
}

func (o *Orchestrator) GetCallStatus(conn domain.ConnID, ws domain.WorkspaceID) {
	calls := o.Calls.ListActiveCalls(ws)
	status := protocol.CallStatus{WorkspaceSlug: ws, CallCount: len(calls)}
	for _, c := range calls {
		status.ParticipantCount += c.ParticipantCount
	}
	status.Active = status.CallCount > 0
	o.reply(conn, protocol.TypeCallStatus, status)
}

// CreateCall registers a new call and acks it to the requester. The
// requester is not a participant until it sends join_call.
func (o *Orchestrator) CreateCall(conn domain.ConnID, e protocol.CreateCall) {
	ws := domain.WorkspaceID(e.WorkspaceSlug)
	if !o.inWorkspace(conn, ws, protocol.TypeCreateCall) {
		return
	}
	user, name, err := o.resolveUser(conn, e.UserID, e.UserName)
	if err != nil {
		o.errorFor(conn, err, protocol.TypeCreateCall, "")
		return
	}

	unlock := o.locks.lock(ws)
	defer unlock()

	call, err := o.Calls.CreateCall(ws, user, name)
	if err != nil {
		o.errorFor(conn, err, protocol.TypeCreateCall, "")
		return
	}
	o.Metrics.callCreated()

	created := protocol.CallCreated{
		CallID:        call.ID,
		WorkspaceSlug: ws,
		CreatorID:     call.CreatorID,
		CreatorName:   call.CreatorName,
		CreatedAt:     call.CreatedAt,
	}
	o.reply(conn, protocol.TypeCallCreated, created)
	o.broadcastRoom(ws, protocol.TypeCallCreated, created, conn)
}

func (o *Orchestrator) JoinCall(conn domain.ConnID, e protocol.JoinCall) {
	ws := domain.WorkspaceID(e.WorkspaceSlug)
	id := domain.CallID(e.CallID)
	if !o.inWorkspace(conn, ws, protocol.TypeJoinCall) {
		return
	}
	user, name, err := o.resolveUser(conn, e.UserID, e.UserName)
	if err != nil {
		o.errorFor(conn, err, protocol.TypeJoinCall, id)
		return
	}

	// A failed join must not cost the caller its current call.
	if !o.callIn(id, ws) {
		o.errorFor(conn, domain.ErrCallNotFound, protocol.TypeJoinCall, id)
		return
	}

	// One call per connection: leave the current one first. This may lock
	// another workspace, so it happens before taking ws.
	if cur, ok := o.Calls.CallOf(conn); ok && cur != id {
		o.leave(conn, cur, reasonSwitch)
	}

	unlock := o.locks.lock(ws)
	defer unlock()

	// Rechecked: the call may have ended while the lock was free.
	if !o.callIn(id, ws) {
		o.errorFor(conn, domain.ErrCallNotFound, protocol.TypeJoinCall, id)
		return
	}
	res, err := o.Calls.AddParticipant(id, conn, user, name)
	if err != nil {
		o.errorFor(conn, err, protocol.TypeJoinCall, id)
		return
	}
	me := res.Participant
	if e.PeerID != "" {
		if p, ok := o.Calls.SetPeerIdentity(id, conn, e.PeerID); ok {
			me = p
		}
	}
	if !res.Rejoined {
		o.Metrics.participantJoined()
	}

	others := make([]domain.Participant, 0, len(res.Roster))
	for _, p := range res.Roster {
		if p.ConnID != conn {
			others = append(others, p)
		}
	}
	o.reply(conn, protocol.TypeExistingParticipants, protocol.ExistingParticipants{
		CallID:       id,
		Participants: others,
	})
	o.broadcastRoster(others, protocol.TypeUserJoinedCall, protocol.UserJoinedCall{
		CallID:      id,
		Participant: me,
	}, conn)
	o.broadcastRoom(ws, protocol.TypeParticipantCount, protocol.ParticipantCount{
		CallID:           id,
		WorkspaceSlug:    ws,
		ParticipantCount: len(res.Roster),
	}, "")
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("call", string(id)).
		Str("workspace", string(ws)).Int("participants", len(res.Roster)).Msg("joined call")
}

// callIn reports whether id is a live call of ws. Calls of other
// workspaces are reported as missing.
func (o *Orchestrator) callIn(id domain.CallID, ws domain.WorkspaceID) bool {
	call, ok := o.Calls.Call(id)
	return ok && call.Workspace == ws
}

// SharePeerID relays a participant's media peer id. Tokens for unknown
// calls or departed participants are dropped silently.
func (o *Orchestrator) SharePeerID(conn domain.ConnID, id domain.CallID, peerID string) {
	call, ok := o.Calls.Call(id)
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", string(conn)).Str("call", string(id)).Msg("peer id for unknown call")
		return
	}
	unlock := o.locks.lock(call.Workspace)
	defer unlock()

	p, ok := o.Calls.SetPeerIdentity(id, conn, peerID)
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", string(conn)).Str("call", string(id)).Msg("peer id from non-participant")
		return
	}
	roster, err := o.Calls.GetRoster(id)
	if err != nil {
		return
	}
	o.broadcastRoster(roster, protocol.TypePeerIDShared, protocol.PeerIDShared{
		CallID:       id,
		ConnectionID: conn,
		UserID:       p.UserID,
		PeerID:       peerID,
	}, conn)
}

// LeaveCall handles an explicit leave. Leaving a call one is not part of is
// a no-op; an unknown call id is reported.
func (o *Orchestrator) LeaveCall(conn domain.ConnID, id domain.CallID) {
	if err := o.leave(conn, id, reasonLeave); err != nil {
		o.errorFor(conn, err, protocol.TypeLeaveCall, id)
	}
}

// leave is the single removal path shared by leave_call, call switching and
// disconnect cleanup. RemoveParticipant is idempotent, so racing callers
// produce one set of broadcasts.
func (o *Orchestrator) leave(conn domain.ConnID, id domain.CallID, reason leaveReason) error {
	call, ok := o.Calls.Call(id)
	if !ok {
		return domain.ErrCallNotFound
	}
	ws := call.Workspace
	unlock := o.locks.lock(ws)
	defer unlock()

	res := o.Calls.RemoveParticipant(id, conn)
	if !res.Removed {
		return nil
	}
	o.Metrics.participantLeft(reason)

	if res.CallDeleted {
		o.Metrics.callEnded()
		o.broadcastRoom(ws, protocol.TypeCallEnded, protocol.CallEnded{CallID: id, WorkspaceSlug: ws}, "")
		log.Info().Str("module", "orch").Str("call", string(id)).Str("workspace", string(ws)).
			Str("reason", string(reason)).Msg("call ended")
		return nil
	}

	roster, err := o.Calls.GetRoster(id)
	if err != nil && !errors.Is(err, domain.ErrCallNotFound) {
		return err
	}
	o.broadcastRoster(roster, protocol.TypeUserLeftCall, protocol.UserLeftCall{
		CallID:       id,
		ConnectionID: conn,
		UserID:       res.Participant.UserID,
		UserName:     res.Participant.UserName,
	}, conn)
	o.broadcastRoom(ws, protocol.TypeParticipantCount, protocol.ParticipantCount{
		CallID:           id,
		WorkspaceSlug:    ws,
		ParticipantCount: res.Remaining,
	}, "")
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("call", string(id)).
		Str("reason", string(reason)).Int("remaining", res.Remaining).Msg("left call")
	return nil
}
