package orch

import (
	"sync"
	"testing"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/protocol"
	json "github.com/goccy/go-json"
)

// recConn records every frame queued to it. When full is set it behaves
// like a connection whose send buffer is exhausted.
type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *recConn) all(t *testing.T) []received {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]received, 0, len(c.frames))
	for _, f := range c.frames {
		var r received
		if err := json.Unmarshal(f, &r); err != nil {
			t.Fatalf("undecodable frame %s: %v", f, err)
		}
		out = append(out, r)
	}
	return out
}

// of returns the payloads of every frame of the given type, decoded into T.
func of[T any](t *testing.T, c *recConn, typ string) []T {
	t.Helper()
	var out []T
	for _, r := range c.all(t) {
		if r.Type != typ {
			continue
		}
		var v T
		if err := json.Unmarshal(r.Payload, &v); err != nil {
			t.Fatalf("decode %s payload: %v", typ, err)
		}
		out = append(out, v)
	}
	return out
}

func (c *recConn) count(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, r := range c.all(t) {
		if r.Type == typ {
			n++
		}
	}
	return n
}

func (c *recConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	conns map[domain.ConnID]*recConn
	kicks map[domain.ConnID]int
	mu    sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	o := New(app.NewRegistry(), core.NewCallStore(), app.NewPresence(), app.SimplePolicy{})
	return &harness{
		t:     t,
		o:     o,
		conns: make(map[domain.ConnID]*recConn),
		kicks: make(map[domain.ConnID]int),
	}
}

// connect binds a connection and, when ws is set, joins that workspace.
// Frames produced by the join are discarded.
func (h *harness) connect(id domain.ConnID, ws string) *recConn {
	h.t.Helper()
	c := &recConn{}
	h.conns[id] = c
	h.o.Registry.Bind(id, c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.kicks[id]++
	})
	if ws != "" {
		h.send(id, `{"type":"join_workspace","payload":"`+ws+`"}`)
	}
	c.reset()
	return c
}

func (h *harness) send(id domain.ConnID, raw string) {
	h.t.Helper()
	ev, err := protocol.Decode([]byte(raw))
	if err != nil {
		h.o.RejectFrame(id, err)
		return
	}
	h.o.Handle(id, ev)
}

// createCall sends create_call from id and returns the acked call id.
func (h *harness) createCall(id domain.ConnID, ws, user, name string) domain.CallID {
	h.t.Helper()
	c := h.conns[id]
	before := len(of[protocol.CallCreated](h.t, c, protocol.TypeCallCreated))
	h.send(id, `{"type":"create_call","payload":{"workspaceSlug":"`+ws+`","userId":"`+user+`","userName":"`+name+`"}}`)
	acks := of[protocol.CallCreated](h.t, c, protocol.TypeCallCreated)
	if len(acks) != before+1 {
		h.t.Fatalf("create_call from %s: no call_created ack", id)
	}
	return acks[len(acks)-1].CallID
}

func (h *harness) joinCall(id domain.ConnID, call domain.CallID, ws, user, name string) {
	h.t.Helper()
	h.send(id, `{"type":"join_call","payload":{"callId":"`+string(call)+`","workspaceSlug":"`+ws+
		`","userId":"`+user+`","userName":"`+name+`"}}`)
}

func (h *harness) leaveCall(id domain.ConnID, call domain.CallID) {
	h.t.Helper()
	h.send(id, `{"type":"leave_call","payload":{"callId":"`+string(call)+`"}}`)
}

func (h *harness) activeCalls(id domain.ConnID, ws string) []domain.CallSummary {
	h.t.Helper()
	c := h.conns[id]
	c.reset()
	h.send(id, `{"type":"get_active_calls","payload":{"workspaceSlug":"`+ws+`"}}`)
	lists := of[protocol.ActiveCallsList](h.t, c, protocol.TypeActiveCallsList)
	if len(lists) != 1 {
		h.t.Fatalf("get_active_calls: got %d replies", len(lists))
	}
	c.reset()
	return lists[0].Calls
}

func (h *harness) kicked(id domain.ConnID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kicks[id]
}
