package orch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrIdentityMismatch = errors.New("user id does not match authenticated identity")

// Orchestrator is the signaling coordinator. It is the only writer of call
// and presence state; every mutation for a workspace runs under that
// workspace's lock together with the broadcasts it causes.
type Orchestrator struct {
	Registry *app.Registry
	Calls    core.CallStore
	Presence *app.Presence
	Policy   app.Policy
	Metrics  *Metrics

	locks workspaceLocks
}

func New(reg *app.Registry, calls core.CallStore, presence *app.Presence, policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Calls:    calls,
		Presence: presence,
		Policy:   policy,
		Metrics:  NewMetrics(nil),
	}
}

type workspaceLocks struct {
	mu sync.Mutex
	m  map[domain.WorkspaceID]*sync.Mutex
}

func (l *workspaceLocks) lock(ws domain.WorkspaceID) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[domain.WorkspaceID]*sync.Mutex)
	}
	m, ok := l.m[ws]
	if !ok {
		m = &sync.Mutex{}
		l.m[ws] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Handle processes one decoded event from conn to completion. A panic in a
// handler is contained to this event.
func (o *Orchestrator) Handle(conn domain.ConnID, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "orch").Str("conn", string(conn)).Str("event", ev.Type()).
				Interface("panic", r).Msg("event handler panicked")
			o.replyError(conn, protocol.CodeInternal, "internal error", ev.Type(), "")
		}
	}()

	switch e := ev.(type) {
	case protocol.JoinWorkspace:
		o.JoinWorkspace(conn, domain.WorkspaceID(e.WorkspaceSlug))
	case protocol.GetActiveCalls:
		o.GetActiveCalls(conn, domain.WorkspaceID(e.WorkspaceSlug))
	case protocol.CreateCall:
		o.CreateCall(conn, e)
	case protocol.JoinCall:
		o.JoinCall(conn, e)
	case protocol.SharePeerID:
		o.SharePeerID(conn, domain.CallID(e.CallID), e.PeerID)
	case protocol.LeaveCall:
		o.LeaveCall(conn, domain.CallID(e.CallID))
	case protocol.GetCallStatus:
		o.GetCallStatus(conn, domain.WorkspaceID(e.WorkspaceSlug))
	case protocol.UserOnline:
		o.UserOnline(conn, e)
	case protocol.UserOffline:
		o.UserOffline(conn, e)
	case protocol.GetPresence:
		o.GetPresence(conn, domain.WorkspaceID(e.WorkspaceSlug))
	default:
		log.Warn().Str("module", "orch").Str("type", ev.Type()).Msg("unhandled event")
	}
}

// RejectFrame answers a frame that failed decoding.
func (o *Orchestrator) RejectFrame(conn domain.ConnID, err error) {
	code := protocol.CodeBadPayload
	if errors.Is(err, protocol.ErrUnknownEvent) {
		code = protocol.CodeUnknownEvent
	}
	var typ string
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		typ = de.Type
	}
	log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("rejected frame")
	o.replyError(conn, code, err.Error(), typ, "")
}

// RejectEvent answers a well-formed event the transport refused to pass on.
func (o *Orchestrator) RejectEvent(conn domain.ConnID, code, msg, event string) {
	o.replyError(conn, code, msg, event, "")
}

func (o *Orchestrator) JoinWorkspace(conn domain.ConnID, ws domain.WorkspaceID) {
	if err := domain.ValidateWorkspace(ws); err != nil {
		o.replyError(conn, protocol.CodeBadPayload, err.Error(), protocol.TypeJoinWorkspace, "")
		return
	}
	if !o.Registry.Join(conn, ws) {
		log.Warn().Str("module", "orch").Str("conn", string(conn)).Msg("join_workspace from unbound connection")
		return
	}
	o.GetActiveCalls(conn, ws)
}

// inWorkspace enforces the joined-room precondition. Violations are
// dropped, not answered.
func (o *Orchestrator) inWorkspace(conn domain.ConnID, ws domain.WorkspaceID, event string) bool {
	if o.Registry.InRoom(conn, ws) {
		return true
	}
	log.Warn().Err(domain.ErrNotInWorkspace).Str("module", "orch").Str("conn", string(conn)).
		Str("workspace", string(ws)).Str("event", event).Msg("event ignored")
	return false
}

// resolveUser picks the identity an event acts as. A connection bound to an
// authenticated identity cannot speak for anyone else.
func (o *Orchestrator) resolveUser(conn domain.ConnID, id, name string) (domain.UserID, string, error) {
	if bound, boundName, ok := o.Registry.Identity(conn); ok {
		if id != "" && domain.UserID(id) != bound {
			return "", "", ErrIdentityMismatch
		}
		if name == "" {
			name = boundName
		}
		id = string(bound)
	}
	if name == "" {
		name = id
	}
	u, err := domain.NewUser(domain.UserID(id), name)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", protocol.ErrBadPayload, err)
	}
	return u.ID, u.Username, nil
}

func (o *Orchestrator) reply(conn domain.ConnID, typ string, payload any) {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode reply")
		return
	}
	if err := o.Registry.SendTo(conn, frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn)).Str("type", typ).Msg("reply not delivered")
		if errors.Is(err, core.ErrBackpressure) {
			o.applyPolicy([]domain.ConnID{conn})
		}
	}
}

func (o *Orchestrator) replyError(conn domain.ConnID, code, msg, event string, callID domain.CallID) {
	o.Metrics.signalError(code)
	o.reply(conn, protocol.TypeCallError, protocol.CallError{
		Code:    code,
		Message: msg,
		Event:   event,
		CallID:  callID,
	})
}

func (o *Orchestrator) errorFor(conn domain.ConnID, err error, event string, callID domain.CallID) {
	switch {
	case errors.Is(err, domain.ErrCallNotFound):
		o.replyError(conn, protocol.CodeCallNotFound, "call not found", event, callID)
	case errors.Is(err, ErrIdentityMismatch):
		o.replyError(conn, protocol.CodeIdentityMismatch, err.Error(), event, callID)
	case errors.Is(err, protocol.ErrBadPayload):
		o.replyError(conn, protocol.CodeBadPayload, err.Error(), event, callID)
	default:
		log.Error().Err(err).Str("module", "orch").Str("conn", string(conn)).Str("event", event).Msg("event failed")
		o.replyError(conn, protocol.CodeInternal, "internal error", event, callID)
	}
}

// broadcastRoom sends to every connection in the workspace room.
func (o *Orchestrator) broadcastRoom(ws domain.WorkspaceID, typ string, payload any, exclude domain.ConnID) {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode broadcast")
		return
	}
	res := o.Registry.Broadcast(ws, frame, exclude)
	o.applyPolicy(res.Dropped)
}

// broadcastRoster sends to the given call participants.
func (o *Orchestrator) broadcastRoster(roster []domain.Participant, typ string, payload any, exclude domain.ConnID) {
	if len(roster) == 0 {
		return
	}
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode roster broadcast")
		return
	}
	conns := make([]domain.ConnID, 0, len(roster))
	for _, p := range roster {
		conns = append(conns, p.ConnID)
	}
	res := o.Registry.SendMany(conns, frame, exclude)
	o.applyPolicy(res.Dropped)
}

func (o *Orchestrator) applyPolicy(dropped []domain.ConnID) {
	for _, conn := range dropped {
		o.Metrics.broadcastDropped()
		if o.Policy == nil {
			continue
		}
		switch o.Policy.OnBackPressure(conn) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("conn", string(conn)).Msg("kicking slow connection")
			o.Registry.Cancel(conn)
		case app.NoAction:
		}
	}
}
