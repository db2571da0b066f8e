package orch

import (
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/protocol"
)

func (o *Orchestrator) UserOnline(conn domain.ConnID, e protocol.UserOnline) {
	ws := domain.WorkspaceID(e.WorkspaceSlug)
	if !o.inWorkspace(conn, ws, protocol.TypeUserOnline) {
		return
	}
	user, name, err := o.resolveUser(conn, e.UserID, e.UserName)
	if err != nil {
		o.errorFor(conn, err, protocol.TypeUserOnline, "")
		return
	}

	unlock := o.locks.lock(ws)
	defer unlock()
	if o.Presence.SetOnline(ws, user, name, conn) {
		o.Metrics.presenceChanged()
		o.broadcastPresence(ws)
	}
}

func (o *Orchestrator) UserOffline(conn domain.ConnID, e protocol.UserOffline) {
	ws := domain.WorkspaceID(e.WorkspaceSlug)
	if !o.inWorkspace(conn, ws, protocol.TypeUserOffline) {
		return
	}
	user, _, err := o.resolveUser(conn, e.UserID, "")
	if err != nil {
		o.errorFor(conn, err, protocol.TypeUserOffline, "")
		return
	}

	unlock := o.locks.lock(ws)
	defer unlock()
	if o.Presence.SetOffline(ws, user, conn) {
		o.Metrics.presenceChanged()
		o.broadcastPresence(ws)
	}
}

func (o *Orchestrator) GetPresence(conn domain.ConnID, ws domain.WorkspaceID) {
	if !o.inWorkspace(conn, ws, protocol.TypeGetPresence) {
		return
	}
	o.reply(conn, protocol.TypePresenceList, protocol.PresenceList{
		WorkspaceSlug: ws,
		Users:         o.Presence.OnlineUsers(ws),
	})
}

// broadcastPresence sends the full online set; callers hold the ws lock.
func (o *Orchestrator) broadcastPresence(ws domain.WorkspaceID) {
	o.broadcastRoom(ws, protocol.TypePresenceUpdate, protocol.PresenceList{
		WorkspaceSlug: ws,
		Users:         o.Presence.OnlineUsers(ws),
	}, "")
}
