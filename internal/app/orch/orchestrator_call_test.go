package orch

import (
	"testing"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/protocol"
)

func TestCreateThenJoinUpdatesCount(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	watcher := h.connect("w", "acme")

	x := h.createCall("c1", "acme", "u1", "Alice")

	if got := of[protocol.CallCreated](t, watcher, protocol.TypeCallCreated); len(got) != 1 || got[0].CallID != x {
		t.Fatalf("room did not see call_created: %+v", got)
	}
	calls := h.activeCalls("c1", "acme")
	if len(calls) != 1 || calls[0].CallID != x || calls[0].ParticipantCount != 0 {
		t.Fatalf("before join: %+v", calls)
	}

	h.joinCall("c1", x, "acme", "u1", "Alice")
	calls = h.activeCalls("c1", "acme")
	if len(calls) != 1 || calls[0].ParticipantCount != 1 {
		t.Fatalf("after join: %+v", calls)
	}
}

func TestSecondJoinerSeesExistingAndFirstSeesJoin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c1 := h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")

	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	c1.reset()
	c2.reset()

	h.joinCall("c2", x, "acme", "u2", "Bob")

	joined := of[protocol.UserJoinedCall](t, c1, protocol.TypeUserJoinedCall)
	if len(joined) != 1 || joined[0].Participant.UserID != "u2" {
		t.Fatalf("c1 user_joined_call = %+v", joined)
	}
	if n := c2.count(t, protocol.TypeUserJoinedCall); n != 0 {
		t.Errorf("joiner got %d user_joined_call echoes", n)
	}
	existing := of[protocol.ExistingParticipants](t, c2, protocol.TypeExistingParticipants)
	if len(existing) != 1 || len(existing[0].Participants) != 1 || existing[0].Participants[0].UserID != "u1" {
		t.Fatalf("c2 existing_participants = %+v", existing)
	}
	if n := c1.count(t, protocol.TypeExistingParticipants); n != 0 {
		t.Errorf("existing_participants leaked to c1")
	}
	for name, c := range map[string]*recConn{"c1": c1, "c2": c2} {
		counts := of[protocol.ParticipantCount](t, c, protocol.TypeParticipantCount)
		if len(counts) != 1 || counts[0].ParticipantCount != 2 {
			t.Errorf("%s call_participant_count_updated = %+v", name, counts)
		}
	}
}

func TestFirstJoinerGetsEmptyExistingList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c1 := h.connect("c1", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	c1.reset()

	h.joinCall("c1", x, "acme", "u1", "Alice")
	existing := of[protocol.ExistingParticipants](t, c1, protocol.TypeExistingParticipants)
	if len(existing) != 1 || len(existing[0].Participants) != 0 {
		t.Fatalf("existing_participants = %+v", existing)
	}
}

func TestDroppedConnectionNotifiesRemaining(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	h.joinCall("c2", x, "acme", "u2", "Bob")
	c2.reset()

	h.o.OnDisconnect("c1")

	left := of[protocol.UserLeftCall](t, c2, protocol.TypeUserLeftCall)
	if len(left) != 1 || left[0].UserID != "u1" || left[0].ConnectionID != "c1" {
		t.Fatalf("c2 user_left_call = %+v", left)
	}
	calls := h.activeCalls("c2", "acme")
	if len(calls) != 1 || calls[0].ParticipantCount != 1 {
		t.Fatalf("after disconnect: %+v", calls)
	}
}

func TestLastLeaveEndsCallAndJoinFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c1 := h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	c2.reset()

	h.leaveCall("c1", x)
	if n := c2.count(t, protocol.TypeCallEnded); n != 1 {
		t.Fatalf("room saw %d call_ended, want 1", n)
	}
	if _, err := h.o.Calls.GetRoster(x); err == nil {
		t.Fatal("call still present after last leave")
	}

	c2.reset()
	h.joinCall("c2", x, "acme", "u2", "Bob")
	errs := of[protocol.CallError](t, c2, protocol.TypeCallError)
	if len(errs) != 1 || errs[0].Code != protocol.CodeCallNotFound || errs[0].CallID != x {
		t.Fatalf("join deleted call: %+v", errs)
	}
	if n := c1.count(t, protocol.TypeCallError); n != 0 {
		t.Errorf("call_error leaked to another connection")
	}
}

func TestSharePeerIDAfterLeaveIsSilent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c1 := h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	h.joinCall("c2", x, "acme", "u2", "Bob")
	h.leaveCall("c1", x)
	c1.reset()
	c2.reset()

	h.send("c1", `{"type":"share_peer_id","payload":{"callId":"`+string(x)+`","peerId":"late"}}`)

	if got := len(c1.all(t)) + len(c2.all(t)); got != 0 {
		t.Fatalf("late share_peer_id produced %d frames", got)
	}
	roster, _ := h.o.Calls.GetRoster(x)
	if len(roster) != 1 || roster[0].ConnID != "c2" {
		t.Errorf("roster = %+v", roster)
	}

	// Unknown call: also silent.
	h.send("c1", `{"type":"share_peer_id","payload":{"callId":"nope","peerId":"late"}}`)
	if n := len(c1.all(t)); n != 0 {
		t.Errorf("share_peer_id for unknown call produced %d frames", n)
	}
}

func TestSharePeerIDRelaysToOthers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c1 := h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")
	bystander := h.connect("c3", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	h.joinCall("c2", x, "acme", "u2", "Bob")
	c1.reset()
	c2.reset()
	bystander.reset()

	h.send("c2", `{"type":"share_peer_id","payload":{"callId":"`+string(x)+`","peerId":"peer-bob"}}`)

	shared := of[protocol.PeerIDShared](t, c1, protocol.TypePeerIDShared)
	if len(shared) != 1 || shared[0].PeerID != "peer-bob" || shared[0].UserID != "u2" {
		t.Fatalf("c1 peer_id_shared = %+v", shared)
	}
	if n := c2.count(t, protocol.TypePeerIDShared); n != 0 {
		t.Error("sender got its own peer_id_shared")
	}
	if n := bystander.count(t, protocol.TypePeerIDShared); n != 0 {
		t.Error("non-participant got peer_id_shared")
	}
	roster, _ := h.o.Calls.GetRoster(x)
	if roster[1].PeerID != "peer-bob" {
		t.Errorf("roster peer id = %q", roster[1].PeerID)
	}
}

func TestJoinWithPeerIDIsAnnounced(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c1 := h.connect("c1", "acme")
	h.connect("c2", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	c1.reset()

	h.send("c2", `{"type":"join_call","payload":{"callId":"`+string(x)+`","workspaceSlug":"acme","userId":"u2","userName":"Bob","peerId":"peer-bob"}}`)
	joined := of[protocol.UserJoinedCall](t, c1, protocol.TypeUserJoinedCall)
	if len(joined) != 1 || joined[0].Participant.PeerID != "peer-bob" {
		t.Fatalf("user_joined_call = %+v", joined)
	}
}

func TestRemoveTwiceBroadcastsCallEndedOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	watcher := h.connect("w", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	watcher.reset()

	h.leaveCall("c1", x)
	h.o.OnDisconnect("c1")
	h.o.OnDisconnect("c1")

	if n := watcher.count(t, protocol.TypeCallEnded); n != 1 {
		t.Fatalf("call_ended broadcast %d times, want 1", n)
	}
}

func TestDisconnectEquivalentToLeave(t *testing.T) {
	t.Parallel()
	run := func(t *testing.T, depart func(h *harness, x domain.CallID)) (int, []domain.CallSummary) {
		h := newHarness(t)
		h.connect("c1", "acme")
		watcher := h.connect("w", "acme")
		x := h.createCall("c1", "acme", "u1", "Alice")
		h.joinCall("c1", x, "acme", "u1", "Alice")
		watcher.reset()
		depart(h, x)
		return watcher.count(t, protocol.TypeCallEnded), h.activeCalls("w", "acme")
	}

	leaveEnded, leaveCalls := run(t, func(h *harness, x domain.CallID) { h.leaveCall("c1", x) })
	dropEnded, dropCalls := run(t, func(h *harness, _ domain.CallID) { h.o.OnDisconnect("c1") })

	if leaveEnded != 1 || dropEnded != 1 {
		t.Errorf("call_ended counts: leave=%d disconnect=%d, want 1 each", leaveEnded, dropEnded)
	}
	if len(leaveCalls) != 0 || len(dropCalls) != 0 {
		t.Errorf("calls remain: leave=%+v disconnect=%+v", leaveCalls, dropCalls)
	}
}

func TestJoinAnotherCallLeavesTheFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")
	a := h.createCall("c1", "acme", "u1", "Alice")
	b := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", a, "acme", "u1", "Alice")
	h.joinCall("c2", a, "acme", "u2", "Bob")
	c2.reset()

	h.joinCall("c1", b, "acme", "u1", "Alice")

	if id, ok := h.o.Calls.CallOf("c1"); !ok || id != b {
		t.Fatalf("CallOf(c1) = %s, %v; want %s", id, ok, b)
	}
	rosterA, _ := h.o.Calls.GetRoster(a)
	if len(rosterA) != 1 || rosterA[0].ConnID != "c2" {
		t.Errorf("call a roster = %+v", rosterA)
	}
	if n := c2.count(t, protocol.TypeUserLeftCall); n != 1 {
		t.Errorf("c2 saw %d user_left_call, want 1", n)
	}
}

func TestFailedJoinKeepsCurrentCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c1 := h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")
	h.connect("c3", "other")
	a := h.createCall("c1", "acme", "u1", "Alice")
	solo := h.createCall("c3", "other", "u3", "Carol")
	h.joinCall("c1", a, "acme", "u1", "Alice")
	h.joinCall("c2", a, "acme", "u2", "Bob")

	tests := []struct {
		name   string
		target domain.CallID
	}{
		{"unknown call", "does-not-exist"},
		{"call of another workspace", solo},
	}
	for _, tt := range tests {
		c1.reset()
		c2.reset()
		h.joinCall("c1", tt.target, "acme", "u1", "Alice")

		if id, ok := h.o.Calls.CallOf("c1"); !ok || id != a {
			t.Fatalf("%s: CallOf(c1) = %q, %v; want %s", tt.name, id, ok, a)
		}
		if n := c2.count(t, protocol.TypeUserLeftCall); n != 0 {
			t.Errorf("%s: c2 saw %d user_left_call", tt.name, n)
		}
		errs := of[protocol.CallError](t, c1, protocol.TypeCallError)
		if len(errs) != 1 || errs[0].Code != protocol.CodeCallNotFound {
			t.Errorf("%s: c1 errors = %+v", tt.name, errs)
		}
	}
	if roster, _ := h.o.Calls.GetRoster(a); len(roster) != 2 {
		t.Errorf("call a roster = %+v", roster)
	}
}

func TestFailedJoinDoesNotEndSoloCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	watcher := h.connect("c2", "acme")
	a := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", a, "acme", "u1", "Alice")
	watcher.reset()

	h.joinCall("c1", "does-not-exist", "acme", "u1", "Alice")

	if _, ok := h.o.Calls.Call(a); !ok {
		t.Fatal("call ended by a failed join")
	}
	if n := watcher.count(t, protocol.TypeCallEnded); n != 0 {
		t.Errorf("room saw %d call_ended", n)
	}
}

func TestRejoinSameCallIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	h.joinCall("c2", x, "acme", "u2", "Bob")
	c2.reset()

	h.joinCall("c1", x, "acme", "u1", "Alice")

	roster, _ := h.o.Calls.GetRoster(x)
	if len(roster) != 2 {
		t.Fatalf("roster size after rejoin = %d", len(roster))
	}
	if n := c2.count(t, protocol.TypeUserLeftCall); n != 0 {
		t.Error("rejoin of same call produced user_left_call")
	}
	counts := of[protocol.ParticipantCount](t, c2, protocol.TypeParticipantCount)
	if len(counts) != 1 || counts[0].ParticipantCount != 2 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestJoinCallFromOtherWorkspaceIsNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	intruder := h.connect("c2", "globex")
	x := h.createCall("c1", "acme", "u1", "Alice")

	h.joinCall("c2", x, "globex", "u2", "Mallory")
	errs := of[protocol.CallError](t, intruder, protocol.TypeCallError)
	if len(errs) != 1 || errs[0].Code != protocol.CodeCallNotFound {
		t.Fatalf("cross-workspace join: %+v", errs)
	}
}

func TestEventsBeforeJoinWorkspaceAreIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.connect("c1", "")

	h.send("c1", `{"type":"create_call","payload":{"workspaceSlug":"acme","userId":"u1","userName":"Alice"}}`)
	h.send("c1", `{"type":"get_active_calls","payload":{"workspaceSlug":"acme"}}`)

	if n := len(c.all(t)); n != 0 {
		t.Fatalf("got %d frames before join_workspace", n)
	}
	if calls := h.o.Calls.ListActiveCalls("acme"); len(calls) != 0 {
		t.Errorf("call created without workspace membership: %+v", calls)
	}
}

func TestJoinWorkspaceRepliesWithActiveCalls(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")

	late := &recConn{}
	h.conns["c2"] = late
	h.o.Registry.Bind("c2", late, nil)
	h.send("c2", `{"type":"join_workspace","payload":"acme"}`)

	lists := of[protocol.ActiveCallsList](t, late, protocol.TypeActiveCallsList)
	if len(lists) != 1 || len(lists[0].Calls) != 1 || lists[0].Calls[0].CallID != x {
		t.Fatalf("join_workspace reply = %+v", lists)
	}
}

func TestGetActiveCallsEmptyIsArray(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.connect("c1", "acme")
	h.send("c1", `{"type":"get_active_calls","payload":{"workspaceSlug":"acme"}}`)
	all := c.all(t)
	if len(all) != 1 || string(all[0].Payload) != `{"workspaceSlug":"acme","calls":[]}` {
		t.Fatalf("reply = %+v", all)
	}
}

func TestGetCallStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c1 := h.connect("c1", "acme")
	outsider := h.connect("c9", "")

	h.send("c9", `{"type":"get_call_status","payload":{"workspaceSlug":"acme"}}`)
	st := of[protocol.CallStatus](t, outsider, protocol.TypeCallStatus)
	if len(st) != 1 || st[0].Active {
		t.Fatalf("status before calls = %+v", st)
	}

	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	c1.reset()
	h.send("c1", `{"type":"get_call_status","payload":{"workspaceSlug":"acme"}}`)
	st = of[protocol.CallStatus](t, c1, protocol.TypeCallStatus)
	if len(st) != 1 || !st[0].Active || st[0].CallCount != 1 || st[0].ParticipantCount != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestLeaveUnknownCallReportsError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.connect("c1", "acme")
	h.leaveCall("c1", "nope")
	errs := of[protocol.CallError](t, c, protocol.TypeCallError)
	if len(errs) != 1 || errs[0].Code != protocol.CodeCallNotFound {
		t.Fatalf("leave unknown call: %+v", errs)
	}
}

func TestLeaveCallNotAMemberIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	c2 := h.connect("c2", "acme")
	x := h.createCall("c1", "acme", "u1", "Alice")
	h.joinCall("c1", x, "acme", "u1", "Alice")
	c2.reset()

	h.leaveCall("c2", x)
	if n := len(c2.all(t)); n != 0 {
		t.Fatalf("non-member leave produced %d frames", n)
	}
}

func TestMalformedFrameAnswersCallError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.connect("c1", "acme")

	h.send("c1", `not json`)
	h.send("c1", `{"type":"teleport","payload":{}}`)
	h.send("c1", `{"type":"join_call","payload":{"callId":""}}`)

	errs := of[protocol.CallError](t, c, protocol.TypeCallError)
	if len(errs) != 3 {
		t.Fatalf("got %d call_error, want 3", len(errs))
	}
	want := []string{protocol.CodeBadPayload, protocol.CodeUnknownEvent, protocol.CodeBadPayload}
	for i, e := range errs {
		if e.Code != want[i] {
			t.Errorf("error %d code = %s, want %s", i, e.Code, want[i])
		}
	}
	if errs[2].Event != protocol.TypeJoinCall {
		t.Errorf("error event = %q", errs[2].Event)
	}
}

func TestBoundIdentityRejectsImpersonation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.connect("c1", "acme")
	h.o.Registry.SetIdentity("c1", "u1", "Alice")

	h.send("c1", `{"type":"create_call","payload":{"workspaceSlug":"acme","userId":"u2","userName":"Bob"}}`)
	errs := of[protocol.CallError](t, c, protocol.TypeCallError)
	if len(errs) != 1 || errs[0].Code != protocol.CodeIdentityMismatch {
		t.Fatalf("impersonation: %+v", errs)
	}

	x := h.createCall("c1", "acme", "u1", "Alice")
	call, ok := h.o.Calls.Call(x)
	if !ok || call.CreatorID != "u1" {
		t.Errorf("call creator = %+v", call)
	}
}

func TestBoundIdentityFillsOmittedUserFields(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.connect("c1", "acme")
	h.o.Registry.SetIdentity("c1", "u1", "Alice")

	h.send("c1", `{"type":"create_call","payload":{"workspaceSlug":"acme"}}`)
	acks := of[protocol.CallCreated](t, c, protocol.TypeCallCreated)
	if len(acks) != 1 || acks[0].CreatorID != "u1" || acks[0].CreatorName != "Alice" {
		t.Fatalf("call_created = %+v", acks)
	}
	h.send("c1", `{"type":"join_call","payload":{"callId":"`+string(acks[0].CallID)+`","workspaceSlug":"acme"}}`)
	roster, _ := h.o.Calls.GetRoster(acks[0].CallID)
	if len(roster) != 1 || roster[0].UserID != "u1" || roster[0].UserName != "Alice" {
		t.Fatalf("roster = %+v", roster)
	}
}

func TestUnboundConnectionMustNameItself(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.connect("c1", "acme")

	h.send("c1", `{"type":"create_call","payload":{"workspaceSlug":"acme","userName":"Alice"}}`)
	errs := of[protocol.CallError](t, c, protocol.TypeCallError)
	if len(errs) != 1 || errs[0].Code != protocol.CodeBadPayload {
		t.Fatalf("create_call without userId: %+v", errs)
	}
	if calls := h.o.Calls.ListActiveCalls("acme"); len(calls) != 0 {
		t.Fatalf("call created anyway: %+v", calls)
	}
}

func TestSlowConnectionIsKicked(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect("c1", "acme")
	slow := h.connect("c2", "acme")
	slow.full = true

	h.createCall("c1", "acme", "u1", "Alice")
	if n := h.kicked("c2"); n != 1 {
		t.Fatalf("slow connection kicked %d times, want 1", n)
	}
	if n := h.kicked("c1"); n != 0 {
		t.Errorf("healthy connection kicked")
	}
}

func TestTolerantPolicyKeepsSlowConnection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.o.Policy = app.TolerantPolicy{}
	h.connect("c1", "acme")
	slow := h.connect("c2", "acme")
	slow.full = true

	h.createCall("c1", "acme", "u1", "Alice")
	if n := h.kicked("c2"); n != 0 {
		t.Fatalf("tolerant policy kicked %d times", n)
	}
}
