package signal

import (
	"context"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// writePump owns all writes to the socket, keepalive pings included.
// Closing the socket on ctx.Done unblocks readPump.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Settings.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Settings.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

// readPump processes frames of one connection in order. Its exit is the
// disconnect signal: whatever ended it, cleanup runs exactly here.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, connID domain.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(connID)
		ctl.Limiter.Forget(connID)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(connID, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(connID domain.ConnID, c *WsSignalConn, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		ctl.Orch.RejectFrame(connID, err)
		return
	}

	switch ev.(type) {
	case protocol.Ping:
		ctl.handlePing(c)
		return
	case protocol.CreateCall:
		if !ctl.Limiter.Allow(connID) {
			log.Warn().Str("module", "signal").Str("conn", string(connID)).Msg("create_call rate limited")
			ctl.Orch.RejectEvent(connID, protocol.CodeRateLimited, "too many calls created, retry later", protocol.TypeCreateCall)
			return
		}
	}
	ctl.Orch.Handle(connID, ev)
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, typ string, v any) {
	frame, err := protocol.Encode(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(frame)
}
