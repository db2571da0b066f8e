package orch

import (
	"context"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/protocol"
	"github.com/rs/zerolog/log"
)

// OnDisconnect turns a vanished connection into the same cleanup an
// explicit leave would do. Safe to call more than once.
func (o *Orchestrator) OnDisconnect(conn domain.ConnID) {
	rooms := o.Registry.OnDisconnect(conn)

	if id, ok := o.Calls.CallOf(conn); ok {
		if err := o.leave(conn, id, reasonDisconnect); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("disconnect cleanup")
		}
	}

	for _, ws := range o.Presence.DropConnection(conn) {
		o.Metrics.presenceChanged()
		unlock := o.locks.lock(ws)
		o.broadcastPresence(ws)
		unlock()
	}
	log.Info().Str("module", "orch").Str("conn", string(conn)).Int("rooms", len(rooms)).Msg("connection cleaned up")
}

// Reaper expires calls that were created but never joined.
type Reaper struct {
	Orch     *Orchestrator
	TTL      time.Duration
	Interval time.Duration
	Now      func() time.Time
}

func (r *Reaper) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = r.TTL
	}
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch.reaper").Msg("reaper stopped")
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep removes expired pending calls and announces their end.
func (r *Reaper) Sweep() int {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	o := r.Orch
	expired := o.Calls.SweepPending(now().Add(-r.TTL))
	for _, call := range expired {
		o.Metrics.callEnded()
		unlock := o.locks.lock(call.Workspace)
		o.broadcastRoom(call.Workspace, protocol.TypeCallEnded, protocol.CallEnded{
			CallID:        call.ID,
			WorkspaceSlug: call.Workspace,
		}, "")
		unlock()
	}
	if len(expired) > 0 {
		log.Info().Str("module", "orch.reaper").Int("expired", len(expired)).Msg("expired pending calls")
	}
	return len(expired)
}
