package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type presenceUser struct {
	name  string
	conns map[domain.ConnID]struct{}
}

// Presence tracks who is online per workspace. A user stays online while
// at least one of their connections has announced itself.
type Presence struct {
	mu sync.RWMutex
	ws map[domain.WorkspaceID]map[domain.UserID]*presenceUser
	// reverse index for disconnect cleanup
	byConn map[domain.ConnID]map[domain.WorkspaceID]domain.UserID
}

func NewPresence() *Presence {
	return &Presence{
		ws:     make(map[domain.WorkspaceID]map[domain.UserID]*presenceUser),
		byConn: make(map[domain.ConnID]map[domain.WorkspaceID]domain.UserID),
	}
}

// SetOnline reports whether the online set (or a display name) changed.
func (p *Presence) SetOnline(ws domain.WorkspaceID, user domain.UserID, name string, conn domain.ConnID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	// A connection speaks for one user per workspace.
	if prev, ok := p.byConn[conn][ws]; ok && prev != user {
		p.removeLocked(ws, prev, conn)
	}

	users, ok := p.ws[ws]
	if !ok {
		users = make(map[domain.UserID]*presenceUser)
		p.ws[ws] = users
	}
	changed := false
	u, ok := users[user]
	if !ok {
		u = &presenceUser{conns: make(map[domain.ConnID]struct{})}
		users[user] = u
		changed = true
	}
	if name != "" && u.name != name {
		u.name = name
		changed = true
	}
	u.conns[conn] = struct{}{}

	refs, ok := p.byConn[conn]
	if !ok {
		refs = make(map[domain.WorkspaceID]domain.UserID)
		p.byConn[conn] = refs
	}
	refs[ws] = user

	if changed {
		log.Info().Str("module", "app.presence").Str("workspace", string(ws)).Str("user", string(user)).Msg("user online")
	}
	return changed
}

// SetOffline withdraws conn's reference; the user goes offline only when
// it was the last one.
func (p *Presence) SetOffline(ws domain.WorkspaceID, user domain.UserID, conn domain.ConnID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(ws, user, conn)
}

// DropConnection removes conn everywhere and returns the workspaces whose
// online set changed, sorted.
func (p *Presence) DropConnection(conn domain.ConnID) []domain.WorkspaceID {
	p.mu.Lock()
	defer p.mu.Unlock()
	refs := p.byConn[conn]
	var changed []domain.WorkspaceID
	for ws, user := range refs {
		if p.removeLocked(ws, user, conn) {
			changed = append(changed, ws)
		}
	}
	delete(p.byConn, conn)
	slices.Sort(changed)
	return changed
}

func (p *Presence) OnlineUsers(ws domain.WorkspaceID) []domain.PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.PresenceEntry, 0, len(p.ws[ws]))
	for id, u := range p.ws[ws] {
		out = append(out, domain.PresenceEntry{UserID: id, UserName: u.name})
	}
	slices.SortFunc(out, func(a, b domain.PresenceEntry) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}

func (p *Presence) removeLocked(ws domain.WorkspaceID, user domain.UserID, conn domain.ConnID) bool {
	if refs, ok := p.byConn[conn]; ok && refs[ws] == user {
		delete(refs, ws)
		if len(refs) == 0 {
			delete(p.byConn, conn)
		}
	}
	users, ok := p.ws[ws]
	if !ok {
		return false
	}
	u, ok := users[user]
	if !ok {
		return false
	}
	delete(u.conns, conn)
	if len(u.conns) > 0 {
		return false
	}
	delete(users, user)
	if len(users) == 0 {
		delete(p.ws, ws)
	}
	log.Info().Str("module", "app.presence").Str("workspace", string(ws)).Str("user", string(user)).Msg("user offline")
	return true
}
