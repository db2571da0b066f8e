package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Signal core.SignalConnection
	Cancel context.CancelFunc
	Rooms  map[domain.WorkspaceID]struct{}
	// Identity bound at connect time; empty when the server trusts
	// per-event user fields.
	User     domain.UserID
	UserName string
}

// Registry tracks live connections and which workspace rooms they joined.
// It never mutates call or presence state.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
	rooms map[domain.WorkspaceID]map[domain.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
		rooms: make(map[domain.WorkspaceID]map[domain.ConnID]struct{}),
	}
}

func (r *Registry) Bind(conn domain.ConnID, sc core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[conn]; ok {
		e.Signal = sc
		e.Cancel = cancel
		return
	}
	r.conns[conn] = &connEntry{
		Signal: sc,
		Cancel: cancel,
		Rooms:  make(map[domain.WorkspaceID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("bound connection")
}

func (r *Registry) SetIdentity(conn domain.ConnID, user domain.UserID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok {
		return false
	}
	e.User = user
	e.UserName = name
	return true
}

// Identity returns the authenticated identity of conn, if one was bound.
func (r *Registry) Identity(conn domain.ConnID) (domain.UserID, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[conn]
	if !ok || e.User == "" {
		return "", "", false
	}
	return e.User, e.UserName, true
}

func (r *Registry) Connected(conn domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[conn]
	return ok
}

// Join adds conn to the room. Idempotent; false if conn is not bound.
func (r *Registry) Join(conn domain.ConnID, room domain.WorkspaceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok {
		return false
	}
	if _, in := e.Rooms[room]; in {
		return true
	}
	e.Rooms[room] = struct{}{}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[domain.ConnID]struct{})
		r.rooms[room] = members
	}
	members[conn] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Str("room", string(room)).Msg("joined room")
	return true
}

func (r *Registry) Leave(conn domain.ConnID, room domain.WorkspaceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[conn]; ok {
		delete(e.Rooms, room)
	}
	r.dropMemberLocked(conn, room)
}

func (r *Registry) InRoom(conn domain.ConnID, room domain.WorkspaceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][conn]
	return ok
}

func (r *Registry) RoomSize(room domain.WorkspaceID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Broadcast delivers frame to every member of room except exclude.
// An empty room is a no-op.
func (r *Registry) Broadcast(room domain.WorkspaceID, frame core.Frame, exclude domain.ConnID) core.PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := core.PublishResult{}
	for conn := range r.rooms[room] {
		if conn == exclude {
			continue
		}
		r.sendLocked(conn, frame, &res)
	}
	log.Debug().Str("module", "app.registry").Str("room", string(room)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendMany delivers frame to the listed connections except exclude.
// Unknown connections are skipped.
func (r *Registry) SendMany(conns []domain.ConnID, frame core.Frame, exclude domain.ConnID) core.PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := core.PublishResult{}
	for _, conn := range conns {
		if conn == exclude {
			continue
		}
		r.sendLocked(conn, frame, &res)
	}
	return res
}

func (r *Registry) SendTo(conn domain.ConnID, frame core.Frame) error {
	r.mu.RLock()
	e, ok := r.conns[conn]
	r.mu.RUnlock()
	if !ok {
		return core.ErrConnClosed
	}
	return e.Signal.TrySend(frame)
}

// OnDisconnect returns the rooms conn was part of, sorted, and purges
// every trace of it. A second call returns nil.
func (r *Registry) OnDisconnect(conn domain.ConnID) []domain.WorkspaceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok {
		return nil
	}
	rooms := make([]domain.WorkspaceID, 0, len(e.Rooms))
	for room := range e.Rooms {
		rooms = append(rooms, room)
		r.dropMemberLocked(conn, room)
	}
	delete(r.conns, conn)
	slices.Sort(rooms)
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Int("rooms", len(rooms)).Msg("unbind connection")
	return rooms
}

func (r *Registry) Cancel(conn domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[conn]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("canceled connection")
	return true
}

func (r *Registry) sendLocked(conn domain.ConnID, frame core.Frame, res *core.PublishResult) {
	e, ok := r.conns[conn]
	if !ok {
		return
	}
	if err := e.Signal.TrySend(frame); err != nil {
		res.Dropped = append(res.Dropped, conn)
		return
	}
	res.SendTo++
}

func (r *Registry) dropMemberLocked(conn domain.ConnID, room domain.WorkspaceID) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}
