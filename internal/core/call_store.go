package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type rosterEntry struct {
	p   domain.Participant
	seq uint64
}

// callEntry is one call and its roster. joined flips once the first
// participant arrives; from then on an empty roster means the call is gone.
type callEntry struct {
	call   domain.Call
	seq    uint64
	joined bool
	roster map[domain.ConnID]*rosterEntry
}

// callStore is a threadsafe in-memory call registry.
// It never closes adapter-owned resources.
type callStore struct {
	mu     sync.RWMutex
	calls  map[domain.CallID]*callEntry
	byWS   map[domain.WorkspaceID]map[domain.CallID]struct{}
	byConn map[domain.ConnID]domain.CallID
	seq    uint64
	now    func() time.Time
	newID  func() string
}

type StoreOption func(*callStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *callStore) { s.now = now }
}

// WithIDGenerator replaces the uuid generator, for tests.
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *callStore) { s.newID = gen }
}

func NewCallStore(opts ...StoreOption) CallStore {
	s := &callStore{
		calls:  make(map[domain.CallID]*callEntry),
		byWS:   make(map[domain.WorkspaceID]map[domain.CallID]struct{}),
		byConn: make(map[domain.ConnID]domain.CallID),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *callStore) CreateCall(ws domain.WorkspaceID, creatorID domain.UserID, creatorName string) (domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := domain.CallID(s.newID())
	if _, dup := s.calls[id]; dup {
		return domain.Call{}, fmt.Errorf("create call in %s: duplicate id %s", ws, id)
	}
	s.seq++
	e := &callEntry{
		call: domain.Call{
			ID:          id,
			Workspace:   ws,
			CreatorID:   creatorID,
			CreatorName: creatorName,
			CreatedAt:   s.now(),
		},
		seq:    s.seq,
		roster: make(map[domain.ConnID]*rosterEntry),
	}
	s.calls[id] = e
	set, ok := s.byWS[ws]
	if !ok {
		set = make(map[domain.CallID]struct{})
		s.byWS[ws] = set
	}
	set[id] = struct{}{}
	log.Info().Str("module", "core.calls").Str("workspace", string(ws)).Str("call", string(id)).Msg("call created")
	return e.call, nil
}

func (s *callStore) AddParticipant(id domain.CallID, conn domain.ConnID, user domain.UserID, name string) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.calls[id]
	if !ok {
		return JoinResult{}, fmt.Errorf("join %s: %w", id, domain.ErrCallNotFound)
	}
	if cur, in := s.byConn[conn]; in && cur != id {
		return JoinResult{}, fmt.Errorf("join %s from call %s: %w", id, cur, domain.ErrAlreadyInCall)
	}

	res := JoinResult{}
	if re, dup := e.roster[conn]; dup {
		re.p.UserID = user
		re.p.UserName = name
		res.Rejoined = true
		res.Participant = re.p
	} else {
		s.seq++
		re = &rosterEntry{
			p: domain.Participant{
				ConnID:   conn,
				UserID:   user,
				UserName: name,
				JoinedAt: s.now(),
			},
			seq: s.seq,
		}
		e.roster[conn] = re
		e.joined = true
		s.byConn[conn] = id
		res.Participant = re.p
	}
	res.Roster = e.snapshot()
	log.Info().Str("module", "core.calls").Str("call", string(id)).Str("conn", string(conn)).
		Str("user", string(user)).Bool("rejoin", res.Rejoined).Int("roster", len(res.Roster)).Msg("participant added")
	return res, nil
}

func (s *callStore) SetPeerIdentity(id domain.CallID, conn domain.ConnID, peerID string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.calls[id]
	if !ok {
		return domain.Participant{}, false
	}
	re, ok := e.roster[conn]
	if !ok {
		return domain.Participant{}, false
	}
	re.p.PeerID = peerID
	return re.p, true
}

func (s *callStore) RemoveParticipant(id domain.CallID, conn domain.ConnID) RemoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.calls[id]
	if !ok {
		return RemoveResult{}
	}
	re, ok := e.roster[conn]
	if !ok {
		return RemoveResult{Workspace: e.call.Workspace, Remaining: len(e.roster)}
	}
	delete(e.roster, conn)
	if s.byConn[conn] == id {
		delete(s.byConn, conn)
	}
	res := RemoveResult{
		Removed:     true,
		Workspace:   e.call.Workspace,
		Participant: re.p,
		Remaining:   len(e.roster),
	}
	if len(e.roster) == 0 {
		s.deleteLocked(e)
		res.CallDeleted = true
	}
	log.Info().Str("module", "core.calls").Str("call", string(id)).Str("conn", string(conn)).
		Int("remaining", res.Remaining).Bool("deleted", res.CallDeleted).Msg("participant removed")
	return res
}

func (s *callStore) ListActiveCalls(ws domain.WorkspaceID) []domain.CallSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*callEntry, 0, len(s.byWS[ws]))
	for id := range s.byWS[ws] {
		entries = append(entries, s.calls[id])
	}
	slices.SortFunc(entries, func(a, b *callEntry) int {
		if c := a.call.CreatedAt.Compare(b.call.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]domain.CallSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.CallSummary{
			CallID:           e.call.ID,
			CreatorName:      e.call.CreatorName,
			ParticipantCount: len(e.roster),
			CreatedAt:        e.call.CreatedAt,
		})
	}
	return out
}

func (s *callStore) GetRoster(id domain.CallID) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.calls[id]
	if !ok {
		return nil, fmt.Errorf("roster %s: %w", id, domain.ErrCallNotFound)
	}
	return e.snapshot(), nil
}

func (s *callStore) Call(id domain.CallID) (domain.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.calls[id]
	if !ok {
		return domain.Call{}, false
	}
	return e.call, true
}

func (s *callStore) CallOf(conn domain.ConnID) (domain.CallID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byConn[conn]
	return id, ok
}

// SweepPending deletes calls nobody ever joined that were created before
// the cutoff.
func (s *callStore) SweepPending(createdBefore time.Time) []domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Call
	for _, e := range s.calls {
		if e.joined || !e.call.CreatedAt.Before(createdBefore) {
			continue
		}
		s.deleteLocked(e)
		out = append(out, e.call)
		log.Info().Str("module", "core.calls").Str("call", string(e.call.ID)).Msg("pending call expired")
	}
	slices.SortFunc(out, func(a, b domain.Call) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *callStore) deleteLocked(e *callEntry) {
	delete(s.calls, e.call.ID)
	if set, ok := s.byWS[e.call.Workspace]; ok {
		delete(set, e.call.ID)
		if len(set) == 0 {
			delete(s.byWS, e.call.Workspace)
		}
	}
	for conn := range e.roster {
		if s.byConn[conn] == e.call.ID {
			delete(s.byConn, conn)
		}
	}
}

func (e *callEntry) snapshot() []domain.Participant {
	entries := make([]*rosterEntry, 0, len(e.roster))
	for _, re := range e.roster {
		entries = append(entries, re)
	}
	slices.SortFunc(entries, func(a, b *rosterEntry) int {
		if c := a.p.JoinedAt.Compare(b.p.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]domain.Participant, 0, len(entries))
	for _, re := range entries {
		out = append(out, re.p)
	}
	return out
}
