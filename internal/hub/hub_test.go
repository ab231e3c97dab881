package hub

import (
	"context"
	"sync"
	"testing"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type recordingHandler struct {
	mu          sync.Mutex
	events      []protocol.Inbound
	disconnects map[string][]string
}

func (r *recordingHandler) HandleMessage(_ context.Context, _ *Client, msg protocol.Inbound, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
}

func (r *recordingHandler) HandleDisconnect(_ context.Context, c *Client, rooms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnects == nil {
		r.disconnects = map[string][]string{}
	}
	r.disconnects[c.ID] = rooms
}

func newTestHub(t *testing.T) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewHub(m, zerolog.Nop()), m
}

func newTestClient(h *Hub, id, userID string) *Client {
	c := NewClient(id, userID, userID+"-name", nil, h, zerolog.Nop())
	h.Register(c)
	return c
}

func drain(t *testing.T, c *Client) []*protocol.Message {
	t.Helper()
	var out []*protocol.Message
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			msg, err := protocol.ParseMessage(data)
			if err != nil {
				t.Fatalf("bad frame %q: %v", data, err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestProcessMessageErrors(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, "c1", "u1")

	cases := []struct {
		name  string
		frame string
		code  string
	}{
		{"parse", `{not json`, "PARSE_ERROR"},
		{"missing type", `{"payload":{}}`, "PARSE_ERROR"},
		{"unknown", `{"type":"dance"}`, "UNKNOWN_TYPE"},
		{"invalid", `{"type":"typing-update","payload":{"wpm":-1,"accuracy":50}}`, "INVALID_PAYLOAD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.ProcessMessage(c, []byte(tc.frame))
			msgs := drain(t, c)
			if len(msgs) != 1 || msgs[0].Type != protocol.MsgError {
				t.Fatalf("expected one error message, got %+v", msgs)
			}
			var p protocol.ErrorPayload
			if err := msgs[0].DecodePayload(&p); err != nil {
				t.Fatal(err)
			}
			if p.Code != tc.code {
				t.Fatalf("code = %s, want %s", p.Code, tc.code)
			}
		})
	}
}

func TestPingAnsweredWithRequestID(t *testing.T) {
	h, _ := newTestHub(t)
	rec := &recordingHandler{}
	h.SetHandler(rec)
	c := newTestClient(h, "c1", "u1")

	h.ProcessMessage(c, []byte(`{"type":"ping","requestId":"r-1"}`))
	msgs := drain(t, c)
	if len(msgs) != 1 || msgs[0].Type != protocol.MsgPong || msgs[0].RequestID != "r-1" {
		t.Fatalf("unexpected reply %+v", msgs)
	}
	if len(rec.events) != 0 {
		t.Fatalf("ping must not reach the handler")
	}
}

func TestValidEventsReachHandler(t *testing.T) {
	h, _ := newTestHub(t)
	rec := &recordingHandler{}
	h.SetHandler(rec)
	c := newTestClient(h, "c1", "u1")

	h.ProcessMessage(c, []byte(`{"type":"typing-update","payload":{"wpm":50,"accuracy":97,"progress":40}}`))
	h.ProcessMessage(c, []byte(`{"type":"join-typing-room","payload":{"roomId":"r1"}}`))

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(rec.events))
	}
	if u, ok := rec.events[0].(protocol.TypingUpdate); !ok || u.WPM != 50 || u.Progress != 40 {
		t.Fatalf("unexpected first event %#v", rec.events[0])
	}
	if r, ok := rec.events[1].(protocol.JoinTypingRoom); !ok || r.RoomID != "r1" {
		t.Fatalf("unexpected second event %#v", rec.events[1])
	}
}

func TestRoomFanOut(t *testing.T) {
	h, _ := newTestHub(t)
	a := newTestClient(h, "a", "ua")
	b := newTestClient(h, "b", "ub")
	outsider := newTestClient(h, "c", "uc")

	if !h.JoinRoom(a, LeaderboardRoom) || !h.JoinRoom(b, LeaderboardRoom) {
		t.Fatal("first join should add")
	}
	if h.JoinRoom(a, LeaderboardRoom) {
		t.Fatal("second join should be a no-op")
	}

	msg, _ := protocol.NewMessage(protocol.MsgLeaderboardUpdate, []protocol.LeaderboardEntry{})
	h.SendToRoom(LeaderboardRoom, msg)
	if len(drain(t, a)) != 1 || len(drain(t, b)) != 1 {
		t.Fatal("room members should receive the message")
	}
	if len(drain(t, outsider)) != 0 {
		t.Fatal("non-members must not receive room messages")
	}

	h.SendToRoomExcept(LeaderboardRoom, msg, a)
	if len(drain(t, a)) != 0 || len(drain(t, b)) != 1 {
		t.Fatal("except client must be skipped")
	}

	h.BroadcastExcept(msg, b)
	if len(drain(t, a)) != 1 || len(drain(t, b)) != 0 || len(drain(t, outsider)) != 1 {
		t.Fatal("broadcast except should reach everyone else")
	}
}

func TestEmptyTypingRoomRemovedButLeaderboardKept(t *testing.T) {
	h, _ := newTestHub(t)
	a := newTestClient(h, "a", "ua")
	room := BuildRoomID(RoomTypeTyping, "r1")

	h.JoinRoom(a, room)
	h.JoinRoom(a, LeaderboardRoom)
	h.LeaveRoom(a, room)
	h.LeaveRoom(a, LeaderboardRoom)

	if h.rooms.GetRoom(room) != nil {
		t.Fatal("empty typing room should be removed")
	}
	if h.rooms.GetRoom(LeaderboardRoom) == nil {
		t.Fatal("leaderboard room should persist")
	}
	if h.LeaveRoom(a, room) {
		t.Fatal("leaving twice should report false")
	}
}

func TestDisconnectRemovesFromRoomsBeforeHandler(t *testing.T) {
	h, m := newTestHub(t)
	var seenMembers int
	h.SetHandler(handlerFunc(func(_ context.Context, c *Client, rooms []string) {
		seenMembers = len(h.RoomMembers(BuildRoomID(RoomTypeTyping, "r1")))
		if len(rooms) != 1 || rooms[0] != BuildRoomID(RoomTypeTyping, "r1") {
			t.Errorf("rooms = %v", rooms)
		}
	}))
	a := newTestClient(h, "a", "ua")
	b := newTestClient(h, "b", "ub")
	h.JoinRoom(a, BuildRoomID(RoomTypeTyping, "r1"))
	h.JoinRoom(b, BuildRoomID(RoomTypeTyping, "r1"))

	h.Disconnect(a)
	h.Disconnect(a)

	if seenMembers != 1 {
		t.Fatalf("handler saw %d members, want 1", seenMembers)
	}
	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d", h.ClientCount())
	}
	if got := testutil.ToFloat64(m.ConnectionsTotal); got != 1 {
		t.Fatalf("connections gauge = %v", got)
	}
	if _, ok := <-a.Send; ok {
		t.Fatal("send channel should be closed")
	}

	msg, _ := protocol.NewMessage(protocol.MsgPong, nil)
	h.SendToClient(a, msg)
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	h, m := newTestHub(t)
	slow := newTestClient(h, "slow", "u")
	msg, _ := protocol.NewMessage(protocol.MsgPong, nil)
	for i := 0; i < sendBufferSize+5; i++ {
		h.SendToClient(slow, msg)
	}
	if len(slow.Send) != sendBufferSize {
		t.Fatalf("buffer = %d", len(slow.Send))
	}
	if got := testutil.ToFloat64(m.MessagesDropped); got != 5 {
		t.Fatalf("dropped = %v", got)
	}
}

func TestGetStatsCountsUsersAndTypingRooms(t *testing.T) {
	h, _ := newTestHub(t)
	a1 := newTestClient(h, "a1", "ua")
	a2 := newTestClient(h, "a2", "ua")
	b := newTestClient(h, "b", "ub")
	h.JoinRoom(a1, BuildRoomID(RoomTypeTyping, "r1"))
	h.JoinRoom(b, BuildRoomID(RoomTypeTyping, "r1"))
	h.JoinRoom(a2, BuildRoomID(RoomTypeTyping, "r2"))
	h.JoinRoom(b, LeaderboardRoom)

	stats := h.GetStats()
	if stats["totalClients"] != 3 || stats["totalUsers"] != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	typing, ok := stats["typingRooms"].(map[string]int)
	if !ok || len(typing) != 2 || typing["r1"] != 2 || typing["r2"] != 1 {
		t.Fatalf("typingRooms = %#v", stats["typingRooms"])
	}
}

func TestParseRoomType(t *testing.T) {
	cases := map[string]RoomType{
		"leaderboard":    RoomTypeLeaderboard,
		"typing-room:r1": RoomTypeTyping,
		"global":         RoomTypeGlobal,
		"whatever":       RoomTypeGlobal,
	}
	for id, want := range cases {
		if got := ParseRoomType(id); got != want {
			t.Errorf("ParseRoomType(%q) = %s, want %s", id, got, want)
		}
	}
	if got := ExtractRoomEntityID(BuildRoomID(RoomTypeTyping, "leaderboard")); got != "leaderboard" {
		t.Fatalf("entity id = %q", got)
	}
	if BuildRoomID(RoomTypeTyping, "leaderboard") == LeaderboardRoom {
		t.Fatal("typing room ids must not collide with the leaderboard room")
	}
}

type handlerFunc func(ctx context.Context, c *Client, rooms []string)

func (f handlerFunc) HandleMessage(context.Context, *Client, protocol.Inbound, string) {}

func (f handlerFunc) HandleDisconnect(ctx context.Context, c *Client, rooms []string) {
	f(ctx, c, rooms)
}
