package core

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/peerboard/internal/domain"
	"github.com/dkeye/peerboard/internal/protocol"
)

// fakeSender records every event a room pushes at a connection.
type fakeSender struct {
	mu     sync.Mutex
	events []any
}

func (f *fakeSender) TrySend(event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSender) all() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.events))
	copy(out, f.events)
	return out
}

func eventsOf[T any](f *fakeSender) []T {
	var out []T
	for _, e := range f.all() {
		if ev, ok := e.(T); ok {
			out = append(out, ev)
		}
	}
	return out
}

func countOf[T any](f *fakeSender) int { return len(eventsOf[T](f)) }

func lastOf[T any](t *testing.T, f *fakeSender) T {
	t.Helper()
	evs := eventsOf[T](f)
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

func testTimings() Timings {
	return Timings{
		CanvasWindow:    30 * time.Millisecond,
		CodeQuiet:       40 * time.Millisecond,
		CodeCursorQuiet: 20 * time.Millisecond,
	}
}

func startRoom(t *testing.T, meta *domain.Room) *Room {
	t.Helper()
	if meta.ID == "" {
		meta.ID = "r1"
	}
	r := NewRoom(meta, testTimings(), nil)
	go r.Run()
	return r
}

func openRoomMeta() *domain.Room {
	return &domain.Room{
		ID:            "r1",
		CreatedBy:     "alice",
		CreatedByName: "Alice",
		Open:          true,
		CodeLanguage:  "javascript",
	}
}

func gatedRoomMeta() *domain.Room {
	m := openRoomMeta()
	m.Open = false
	return m
}

func member(conn, user, name string) domain.Member {
	return domain.Member{ConnID: domain.ConnID(conn), UserID: domain.UserID(user), Name: name}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 2*time.Millisecond, msg)
}

func join(t *testing.T, r *Room, m domain.Member) *fakeSender {
	t.Helper()
	s := &fakeSender{}
	require.True(t, r.Join(m, s))
	waitFor(t, func() bool { return countOf[protocol.RoomStateEvent](s) > 0 }, "expected room_state after join")
	return s
}

func TestJoinSendsSnapshot(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))

	state := lastOf[protocol.RoomStateEvent](t, alice)
	assert.Equal(t, domain.RoomID("r1"), state.RoomID)
	assert.Equal(t, "", state.CodeData)
	assert.Equal(t, "javascript", state.CodeLanguage)
	assert.Equal(t, "Alice", state.CreatedByName)
	require.Len(t, state.Members, 1)
	assert.Equal(t, domain.UserID("alice"), state.Members[0].UserID)
}

func TestJoinBroadcastsPresenceToOthers(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	waitFor(t, func() bool { return countOf[protocol.PresenceEvent](alice) > 0 }, "alice should see bob join")
	ev := lastOf[protocol.PresenceEvent](t, alice)
	assert.Equal(t, protocol.PresenceJoined, ev.Event)
	assert.Equal(t, domain.UserID("bob"), ev.Member.UserID)

	// The joining member gets the snapshot, not its own presence event.
	assert.Zero(t, countOf[protocol.PresenceEvent](bob))
	state := lastOf[protocol.RoomStateEvent](t, bob)
	assert.Len(t, state.Members, 2)
}

func TestGatedRoomAdmissionFlow(t *testing.T) {
	r := startRoom(t, gatedRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice")) // creator passes the gate

	bob := &fakeSender{}
	bobMember := member("c2", "bob", "Bob")

	// A cold join against a gated room is refused.
	require.True(t, r.Join(bobMember, bob))
	waitFor(t, func() bool { return countOf[protocol.AccessDeniedEvent](bob) > 0 }, "bob should be denied access")
	assert.Zero(t, countOf[protocol.RoomStateEvent](bob))

	// ask_to_join queues a request and notifies members.
	require.True(t, r.AskToJoin(domain.JoinRequest{ConnID: "c2", UserID: "bob", Name: "Bob"}, bob))
	waitFor(t, func() bool { return countOf[protocol.JoinRequestEvent](alice) > 0 }, "alice should see the join request")
	req := lastOf[protocol.JoinRequestEvent](t, alice)
	assert.Equal(t, domain.UserID("bob"), req.UserID)

	// While pending, join_room silently no-ops and must not leak room_state.
	require.True(t, r.Join(bobMember, bob))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, countOf[protocol.RoomStateEvent](bob))

	// Approval unblocks the requester; the follow-up join succeeds.
	require.True(t, r.Decide("c1", alice, "c2", true))
	waitFor(t, func() bool {
		for _, ev := range eventsOf[protocol.JoinDecisionEvent](bob) {
			if ev.Type == protocol.EvtJoinApproved {
				return true
			}
		}
		return false
	}, "bob should receive join_approved")

	require.True(t, r.Join(bobMember, bob))
	waitFor(t, func() bool { return countOf[protocol.RoomStateEvent](bob) > 0 }, "bob should now receive room_state")
	state := lastOf[protocol.RoomStateEvent](t, bob)
	assert.Len(t, state.Members, 2)
}

func TestDeniedRequesterMayRetry(t *testing.T) {
	r := startRoom(t, gatedRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))

	bob := &fakeSender{}
	require.True(t, r.AskToJoin(domain.JoinRequest{ConnID: "c2", UserID: "bob", Name: "Bob"}, bob))
	waitFor(t, func() bool { return countOf[protocol.JoinRequestEvent](alice) > 0 }, "join request")

	require.True(t, r.Decide("c1", alice, "c2", false))
	waitFor(t, func() bool { return countOf[protocol.JoinDecisionEvent](bob) > 0 }, "decision")
	assert.Equal(t, protocol.EvtJoinDenied, lastOf[protocol.JoinDecisionEvent](t, bob).Type)

	// Still outside the room.
	require.True(t, r.Join(member("c2", "bob", "Bob"), bob))
	waitFor(t, func() bool { return countOf[protocol.AccessDeniedEvent](bob) > 0 }, "denied join")
	assert.Zero(t, countOf[protocol.RoomStateEvent](bob))

	// No cooldown: asking again reaches the members.
	require.True(t, r.AskToJoin(domain.JoinRequest{ConnID: "c2", UserID: "bob", Name: "Bob"}, bob))
	waitFor(t, func() bool { return countOf[protocol.JoinRequestEvent](alice) == 2 }, "second join request")
}

func TestAskAgainstOpenRoomIsApprovedImmediately(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))

	bob := &fakeSender{}
	require.True(t, r.AskToJoin(domain.JoinRequest{ConnID: "c2", UserID: "bob", Name: "Bob"}, bob))
	waitFor(t, func() bool { return countOf[protocol.JoinDecisionEvent](bob) > 0 }, "open room approves at once")
	assert.Equal(t, protocol.EvtJoinApproved, lastOf[protocol.JoinDecisionEvent](t, bob).Type)

	// No request was queued, so members hear nothing.
	assert.Zero(t, countOf[protocol.JoinRequestEvent](alice))
}

func TestPriorApprovalShortCircuitsLaterAsk(t *testing.T) {
	r := startRoom(t, gatedRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))

	bob := &fakeSender{}
	require.True(t, r.AskToJoin(domain.JoinRequest{ConnID: "c2", UserID: "bob", Name: "Bob"}, bob))
	waitFor(t, func() bool { return countOf[protocol.JoinRequestEvent](alice) > 0 }, "join request")
	require.True(t, r.Decide("c1", alice, "c2", true))
	waitFor(t, func() bool { return countOf[protocol.JoinDecisionEvent](bob) > 0 }, "first approval")

	// A reconnect asking from a fresh connection skips the queue: approval
	// sticks to the user id for the room's lifetime.
	bob2 := &fakeSender{}
	require.True(t, r.AskToJoin(domain.JoinRequest{ConnID: "c3", UserID: "bob", Name: "Bob"}, bob2))
	waitFor(t, func() bool { return countOf[protocol.JoinDecisionEvent](bob2) > 0 }, "approved user skips the queue")
	assert.Equal(t, protocol.EvtJoinApproved, lastOf[protocol.JoinDecisionEvent](t, bob2).Type)
	assert.Equal(t, 1, countOf[protocol.JoinRequestEvent](alice))
}

func TestRepeatedAskNotifiesMembersOnce(t *testing.T) {
	r := startRoom(t, gatedRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))

	bob := &fakeSender{}
	req := domain.JoinRequest{ConnID: "c2", UserID: "bob", Name: "Bob"}
	require.True(t, r.AskToJoin(req, bob))
	waitFor(t, func() bool { return countOf[protocol.JoinRequestEvent](alice) > 0 }, "join request")
	require.True(t, r.AskToJoin(req, bob))
	require.True(t, r.AskToJoin(req, bob))

	// The repeats collapse into the original entry, which stays decidable.
	require.True(t, r.Decide("c1", alice, "c2", true))
	waitFor(t, func() bool { return countOf[protocol.JoinDecisionEvent](bob) > 0 }, "decision reaches the requester")
	assert.Equal(t, 1, countOf[protocol.JoinRequestEvent](alice))
}

func TestNonMemberCannotDecide(t *testing.T) {
	r := startRoom(t, gatedRoomMeta())
	join(t, r, member("c1", "alice", "Alice"))

	bob := &fakeSender{}
	require.True(t, r.AskToJoin(domain.JoinRequest{ConnID: "c2", UserID: "bob", Name: "Bob"}, bob))

	mallory := &fakeSender{}
	require.True(t, r.Decide("c9", mallory, "c2", true))
	waitFor(t, func() bool { return countOf[protocol.AccessDeniedEvent](mallory) > 0 }, "outsider decision refused")
	assert.Zero(t, countOf[protocol.JoinDecisionEvent](bob))
}

func TestPendingRequestDiscardedOnDisconnect(t *testing.T) {
	r := startRoom(t, gatedRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))

	bob := &fakeSender{}
	require.True(t, r.AskToJoin(domain.JoinRequest{ConnID: "c2", UserID: "bob", Name: "Bob"}, bob))
	waitFor(t, func() bool { return countOf[protocol.JoinRequestEvent](alice) > 0 }, "join request")

	require.True(t, r.Disconnect("c2"))

	// The request is gone: deciding on it now reports an error to alice.
	require.True(t, r.Decide("c1", alice, "c2", true))
	waitFor(t, func() bool { return countOf[protocol.ErrorEvent](alice) > 0 }, "stale decision errors")
	assert.Zero(t, countOf[protocol.JoinDecisionEvent](bob))
}

func TestCanvasThrottleAppliesOnlyLastUpdate(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bobSender := join(t, r, member("c2", "bob", "Bob"))

	var last json.RawMessage
	for i := 0; i < 5; i++ {
		last = json.RawMessage(fmt.Sprintf(`{"rev":%d}`, i))
		require.True(t, r.UpdateCanvas("c2", bobSender, last))
	}

	waitFor(t, func() bool { return countOf[protocol.CanvasEvent](alice) > 0 }, "canvas broadcast")
	// Give a second window a chance to fire before counting.
	time.Sleep(3 * testTimings().CanvasWindow)
	require.Equal(t, 1, countOf[protocol.CanvasEvent](alice))

	ev := lastOf[protocol.CanvasEvent](t, alice)
	assert.JSONEq(t, string(last), string(ev.Scene))
	assert.Equal(t, domain.UserID("bob"), ev.UserID)
	// The sender never hears its own update back.
	assert.Zero(t, countOf[protocol.CanvasEvent](bobSender))

	// The applied value lands in later snapshots.
	carol := join(t, r, member("c3", "carol", "Carol"))
	state := lastOf[protocol.RoomStateEvent](t, carol)
	assert.JSONEq(t, string(last), string(state.CanvasData))
}

func TestCanvasThrottleIsPerConnection(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))
	carol := join(t, r, member("c3", "carol", "Carol"))

	require.True(t, r.UpdateCanvas("c2", bob, json.RawMessage(`{"from":"bob"}`)))
	require.True(t, r.UpdateCanvas("c3", carol, json.RawMessage(`{"from":"carol"}`)))

	// Different senders are not coalesced against each other.
	waitFor(t, func() bool { return countOf[protocol.CanvasEvent](alice) == 2 }, "two independent broadcasts")
}

func TestCanvasFlushSurvivesSaturatedInbox(t *testing.T) {
	r := NewRoom(openRoomMeta(), testTimings(), nil)
	alice := &fakeSender{}
	bob := &fakeSender{}
	r.members["c1"] = &session{member: member("c1", "alice", "Alice"), sender: alice}
	r.byUser["alice"] = "c1"
	r.members["c2"] = &session{member: member("c2", "bob", "Bob"), sender: bob}
	r.byUser["bob"] = "c2"
	r.count.Store(2)

	// Arm the window timer before the actor runs, then saturate the inbox
	// with no-op flushes so the real flush cannot land when the timer fires.
	r.dispatch(canvasCmd{conn: "c1", sender: alice, scene: json.RawMessage(`{"v":1}`)})
	for r.Post(flushCmd{key: taskKey{conn: "nobody", kind: taskCanvas}}) {
	}
	time.Sleep(testTimings().CanvasWindow + 20*time.Millisecond)

	go r.Run()
	waitFor(t, func() bool { return countOf[protocol.CanvasEvent](bob) == 1 }, "deferred scene lands once the backlog drains")
	assert.JSONEq(t, `{"v":1}`, string(lastOf[protocol.CanvasEvent](t, bob).Scene))

	// The key must re-arm afterwards instead of staying parked.
	require.True(t, r.UpdateCanvas("c1", alice, json.RawMessage(`{"v":2}`)))
	waitFor(t, func() bool { return countOf[protocol.CanvasEvent](bob) == 2 }, "later updates keep flushing")
	assert.JSONEq(t, `{"v":2}`, string(lastOf[protocol.CanvasEvent](t, bob).Scene))
}

func TestCodeDebounceKeepsFinalUpdate(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	for i := 0; i < 4; i++ {
		code := fmt.Sprintf("draft %d", i)
		require.True(t, r.UpdateCode("c2", bob, &code, nil))
		time.Sleep(10 * time.Millisecond) // inside the 40ms quiet period
	}

	waitFor(t, func() bool { return countOf[protocol.CodeEvent](alice) > 0 }, "code broadcast")
	time.Sleep(3 * testTimings().CodeQuiet)
	require.Equal(t, 1, countOf[protocol.CodeEvent](alice))
	assert.Equal(t, "draft 3", lastOf[protocol.CodeEvent](t, alice).Code)
}

func TestPartialCodeUpdatePreservesOtherField(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	code := "print('hi')"
	require.True(t, r.UpdateCode("c2", bob, &code, nil))
	waitFor(t, func() bool { return countOf[protocol.CodeEvent](alice) == 1 }, "code applied")

	lang := "python"
	require.True(t, r.UpdateCode("c2", bob, nil, &lang))
	waitFor(t, func() bool { return countOf[protocol.CodeEvent](alice) == 2 }, "language applied")

	ev := lastOf[protocol.CodeEvent](t, alice)
	assert.Equal(t, "print('hi')", ev.Code)
	assert.Equal(t, "python", ev.Language)

	// And the stored state agrees.
	carol := join(t, r, member("c3", "carol", "Carol"))
	state := lastOf[protocol.RoomStateEvent](t, carol)
	assert.Equal(t, "print('hi')", state.CodeData)
	assert.Equal(t, "python", state.CodeLanguage)
}

func TestQuestionUpdateIsImmediate(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	link := "https://example.com/problems/42"
	require.True(t, r.UpdateQuestion("c2", bob, &link))
	waitFor(t, func() bool { return countOf[protocol.QuestionEvent](alice) > 0 }, "question broadcast")
	require.NotNil(t, lastOf[protocol.QuestionEvent](t, alice).QuestionLink)
	assert.Equal(t, link, *lastOf[protocol.QuestionEvent](t, alice).QuestionLink)

	// Clearing the pointer broadcasts a null, not a removal.
	require.True(t, r.UpdateQuestion("c2", bob, nil))
	waitFor(t, func() bool { return countOf[protocol.QuestionEvent](alice) == 2 }, "question cleared")
	assert.Nil(t, lastOf[protocol.QuestionEvent](t, alice).QuestionLink)
}

func TestCursorNullIsTombstone(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	require.True(t, r.UpdateCursor("c2", bob, &domain.PointerPos{X: 10, Y: 20}))
	waitFor(t, func() bool { return countOf[protocol.CursorEvent](alice) == 1 }, "cursor broadcast")
	ev := lastOf[protocol.CursorEvent](t, alice)
	require.NotNil(t, ev.Pointer)
	assert.Equal(t, 10.0, ev.Pointer.X)

	require.True(t, r.UpdateCursor("c2", bob, nil))
	waitFor(t, func() bool { return countOf[protocol.CursorEvent](alice) == 2 }, "cursor removal")
	assert.Nil(t, lastOf[protocol.CursorEvent](t, alice).Pointer)
}

func TestCodeCursorDebounceAndRemoval(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	for i := 0; i < 3; i++ {
		require.True(t, r.UpdateCodeCursor("c2", bob, &domain.CaretPos{Line: i, Column: 1}, nil))
	}
	waitFor(t, func() bool { return countOf[protocol.CodeCursorEvent](alice) > 0 }, "code cursor broadcast")
	time.Sleep(3 * testTimings().CodeCursorQuiet)
	require.Equal(t, 1, countOf[protocol.CodeCursorEvent](alice))
	ev := lastOf[protocol.CodeCursorEvent](t, alice)
	require.NotNil(t, ev.Position)
	assert.Equal(t, 2, ev.Position.Line)

	require.True(t, r.UpdateCodeCursor("c2", bob, nil, nil))
	waitFor(t, func() bool { return countOf[protocol.CodeCursorEvent](alice) == 2 }, "code cursor removal")
	assert.Nil(t, lastOf[protocol.CodeCursorEvent](t, alice).Position)
}

func TestLeaveBroadcastsPresenceAndPurges(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	require.True(t, r.UpdateCursor("c2", bob, &domain.PointerPos{X: 1, Y: 2}))
	waitFor(t, func() bool { return countOf[protocol.CursorEvent](alice) == 1 }, "cursor set")

	require.True(t, r.Leave("c2"))
	waitFor(t, func() bool {
		for _, ev := range eventsOf[protocol.PresenceEvent](alice) {
			if ev.Event == protocol.PresenceLeft && ev.Member.UserID == "bob" {
				return true
			}
		}
		return false
	}, "alice should see bob leave")

	// A resync snapshot no longer lists bob.
	require.True(t, r.Join(member("c1", "alice", "Alice"), alice))
	waitFor(t, func() bool { return countOf[protocol.RoomStateEvent](alice) == 2 }, "resync snapshot")
	state := lastOf[protocol.RoomStateEvent](t, alice)
	require.Len(t, state.Members, 1)
	assert.Equal(t, domain.UserID("alice"), state.Members[0].UserID)
}

func TestLeaveCancelsPendingTimers(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	code := "never applied"
	require.True(t, r.UpdateCode("c2", bob, &code, nil))
	require.True(t, r.Leave("c2"))

	time.Sleep(3 * testTimings().CodeQuiet)
	assert.Zero(t, countOf[protocol.CodeEvent](alice), "no stale update after departure")
}

func TestDuplicateUserIDSupersedesConnection(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	join(t, r, member("c1", "alice", "Alice"))
	second := join(t, r, member("c2", "alice", "Alice"))

	state := lastOf[protocol.RoomStateEvent](t, second)
	require.Len(t, state.Members, 1)
	assert.Equal(t, domain.ConnID("c2"), state.Members[0].ConnID)
}

func TestCloseBroadcastsTerminalNotice(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	alice := join(t, r, member("c1", "alice", "Alice"))
	bob := join(t, r, member("c2", "bob", "Bob"))

	require.True(t, r.Close())
	waitFor(t, func() bool { return countOf[protocol.RoomClosedEvent](bob) > 0 }, "bob notified")
	waitFor(t, func() bool { return countOf[protocol.RoomClosedEvent](alice) > 0 }, "alice notified")

	// The actor is gone: further posts are rejected.
	waitFor(t, func() bool { return !r.Leave("c2") }, "posts rejected after close")
	assert.Zero(t, r.MemberCount())
}

func TestMutationsFromNonMemberAreDenied(t *testing.T) {
	r := startRoom(t, openRoomMeta())
	join(t, r, member("c1", "alice", "Alice"))

	outsider := &fakeSender{}
	scene := json.RawMessage(`{}`)
	require.True(t, r.UpdateCanvas("c9", outsider, scene))
	waitFor(t, func() bool { return countOf[protocol.AccessDeniedEvent](outsider) > 0 }, "canvas denied")

	code := "x"
	require.True(t, r.UpdateCode("c9", outsider, &code, nil))
	require.True(t, r.UpdateQuestion("c9", outsider, nil))
	require.True(t, r.UpdateCursor("c9", outsider, nil))
	require.True(t, r.UpdateCodeCursor("c9", outsider, nil, nil))
	waitFor(t, func() bool { return countOf[protocol.AccessDeniedEvent](outsider) == 5 }, "all mutations denied")
}
