package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/hub"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/leaderboard"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/stats"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/events"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/rs/zerolog"
)

type fixture struct {
	hub     *hub.Hub
	store   *store.Memory
	service *Service
	clock   time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		hub:   hub.NewHub(nil, zerolog.Nop()),
		store: store.NewMemory(),
		clock: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	board := leaderboard.NewAggregator(f.store, zerolog.Nop())
	recorder := stats.NewRecorder(f.store, zerolog.Nop())
	opts = append([]Option{WithClock(f.now)}, opts...)
	f.service = NewService(f.hub, recorder, board, zerolog.Nop(), opts...)
	return f
}

func (f *fixture) now() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fixture) connect(t *testing.T, id, userID string) *hub.Client {
	t.Helper()
	if err := f.store.UpsertUser(context.Background(), store.User{ID: userID, Username: userID + "-name"}); err != nil {
		t.Fatal(err)
	}
	c := hub.NewClient(id, userID, userID+"-name", nil, f.hub, zerolog.Nop())
	f.hub.Register(c)
	f.service.Connect(context.Background(), c)
	return c
}

func (f *fixture) send(t *testing.T, c *hub.Client, frame string) {
	t.Helper()
	f.hub.ProcessMessage(c, []byte(frame))
}

func drain(t *testing.T, c *hub.Client) []*protocol.Message {
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
				t.Fatalf("bad frame: %v", err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func ofType(msgs []*protocol.Message, typ protocol.MessageType) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func lastOnline(t *testing.T, msgs []*protocol.Message) protocol.OnlineUsersPayload {
	t.Helper()
	online := ofType(msgs, protocol.MsgOnlineUsersUpdate)
	if len(online) == 0 {
		t.Fatal("no online-users-update received")
	}
	var p protocol.OnlineUsersPayload
	if err := online[len(online)-1].DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestConnectGreetsAndBroadcastsOnlineUsers(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "c-a", "alice")
	b := f.connect(t, "c-b", "bob")

	msgs := drain(t, a)
	if len(ofType(msgs, protocol.MsgConnected)) != 1 {
		t.Fatalf("expected a connected greeting, got %+v", msgs)
	}
	p := lastOnline(t, msgs)
	if p.Count != 2 || len(p.Users) != 2 || p.Users[0].ID != "c-a" {
		t.Fatalf("online payload = %+v", p)
	}
	if len(ofType(drain(t, b), protocol.MsgConnected)) != 1 {
		t.Fatal("second client should be greeted too")
	}
}

func TestTwoSessionsSameUserAreIndependent(t *testing.T) {
	f := newFixture(t)
	first := f.connect(t, "c-1", "alice")
	second := f.connect(t, "c-2", "alice")
	if f.service.OnlineCount() != 2 {
		t.Fatalf("online = %d", f.service.OnlineCount())
	}

	f.hub.Disconnect(first)
	if f.service.OnlineCount() != 1 {
		t.Fatalf("online after one disconnect = %d", f.service.OnlineCount())
	}
	users := f.service.OnlineUsers()
	if len(users) != 1 || users[0].ID != "c-2" || users[0].UserID != "alice" {
		t.Fatalf("remaining users = %+v", users)
	}
	p := lastOnline(t, drain(t, second))
	if p.Count != 1 {
		t.Fatalf("broadcast count = %d", p.Count)
	}
	online, err := f.service.IsUserOnline(context.Background(), "alice")
	if err != nil || !online {
		t.Fatalf("alice should still be online: %v %v", online, err)
	}
}

func TestOnlineUsersPreviewIsCapped(t *testing.T) {
	f := newFixture(t, WithPreviewSize(3))
	var last *hub.Client
	for i := 0; i < 5; i++ {
		last = f.connect(t, string(rune('a'+i)), string(rune('A'+i)))
	}
	p := lastOnline(t, drain(t, last))
	if p.Count != 5 || len(p.Users) != 3 {
		t.Fatalf("count=%d preview=%d", p.Count, len(p.Users))
	}
}

func TestTypingUpdateNotEchoed(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "c-a", "alice")
	b := f.connect(t, "c-b", "bob")
	drain(t, a)
	drain(t, b)

	f.send(t, a, `{"type":"typing-update","payload":{"wpm":64,"accuracy":98,"progress":25}}`)

	if got := drain(t, a); len(got) != 0 {
		t.Fatalf("origin received %+v", got)
	}
	updates := ofType(drain(t, b), protocol.MsgUserTypingUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected one typing update for bob")
	}
	var p protocol.UserTypingUpdatePayload
	_ = updates[0].DecodePayload(&p)
	if p.UserID != "alice" || p.WPM != 64 || p.Progress != 25 {
		t.Fatalf("payload = %+v", p)
	}
	users := f.service.OnlineUsers()
	if !users[0].IsTyping || users[0].CurrentWPM != 64 {
		t.Fatalf("entry not updated: %+v", users[0])
	}
}

func TestTypingEndPersistsAndBroadcastsLeaderboardToRoomOnly(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, WithPublisher(pub))
	a := f.connect(t, "c-a", "alice")
	watcher := f.connect(t, "c-w", "walt")
	bystander := f.connect(t, "c-b", "bob")

	f.send(t, watcher, `{"type":"join-leaderboard","requestId":"lb"}`)
	initial := ofType(drain(t, watcher), protocol.MsgLeaderboardUpdate)
	if len(initial) != 1 || initial[0].RequestID != "lb" {
		t.Fatalf("joiner should get one snapshot, got %+v", initial)
	}
	drain(t, a)
	drain(t, bystander)

	f.send(t, a, `{"type":"typing-end","requestId":"r1","payload":{"wpm":72,"accuracy":96,"errors":3,"consistency":88,"wordsTyped":72,"timeSpent":60}}`)

	originMsgs := drain(t, a)
	saved := ofType(originMsgs, protocol.MsgTypingSaved)
	if len(saved) != 1 || saved[0].RequestID != "r1" {
		t.Fatalf("expected one typing-saved ack, got %+v", originMsgs)
	}
	var ack protocol.TypingSavedPayload
	_ = saved[0].DecodePayload(&ack)
	if !ack.Success || ack.TestID == "" {
		t.Fatalf("ack = %+v", ack)
	}
	if len(ofType(originMsgs, protocol.MsgLeaderboardUpdate)) != 0 {
		t.Fatal("origin is not in the leaderboard room")
	}

	watcherMsgs := drain(t, watcher)
	updates := ofType(watcherMsgs, protocol.MsgLeaderboardUpdate)
	if len(updates) != 1 {
		t.Fatalf("watcher leaderboard updates = %d", len(updates))
	}
	var rows []protocol.LeaderboardEntry
	_ = updates[0].DecodePayload(&rows)
	if len(rows) != 1 || rows[0].ID != "alice" || rows[0].BestWPM != 72 || rows[0].Rank != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if len(ofType(drain(t, bystander), protocol.MsgLeaderboardUpdate)) != 0 {
		t.Fatal("bystander must not get leaderboard updates")
	}
	if len(ofType(watcherMsgs, protocol.MsgOnlineUsersUpdate)) != 1 {
		t.Fatal("online users should be rebroadcast")
	}

	agg, err := f.store.GetUserAggregate(context.Background(), "alice")
	if err != nil || agg.TotalTests != 1 || agg.BestWPM != 72 {
		t.Fatalf("aggregate = %+v, %v", agg, err)
	}
	if len(pub.events) != 1 || pub.events[0].TestID != ack.TestID || pub.events[0].Username != "alice-name" {
		t.Fatalf("published = %+v", pub.events)
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, store.TestSession) (store.TestSession, error) {
	return store.TestSession{}, errors.New("disk full")
}

func TestTypingEndFailureStillUpdatesPresence(t *testing.T) {
	h := hub.NewHub(nil, zerolog.Nop())
	mem := store.NewMemory()
	svc := NewService(h, failingRecorder{}, leaderboard.NewAggregator(mem, zerolog.Nop()), zerolog.Nop())
	a := hub.NewClient("c-a", "alice", "alice", nil, h, zerolog.Nop())
	b := hub.NewClient("c-b", "bob", "bob", nil, h, zerolog.Nop())
	h.Register(a)
	h.Register(b)
	svc.Connect(context.Background(), a)
	svc.Connect(context.Background(), b)

	h.ProcessMessage(a, []byte(`{"type":"typing-update","payload":{"wpm":40,"accuracy":90}}`))
	drain(t, a)
	drain(t, b)

	h.ProcessMessage(a, []byte(`{"type":"typing-end","payload":{"wpm":55,"accuracy":93}}`))

	saved := ofType(drain(t, a), protocol.MsgTypingSaved)
	var ack protocol.TypingSavedPayload
	_ = saved[0].DecodePayload(&ack)
	if ack.Success || ack.Error == "" {
		t.Fatalf("ack = %+v", ack)
	}

	p := lastOnline(t, drain(t, b))
	var alice protocol.OnlineUser
	for _, u := range p.Users {
		if u.UserID == "alice" {
			alice = u
		}
	}
	if alice.IsTyping || alice.CurrentWPM != 55 {
		t.Fatalf("presence not updated after failed save: %+v", alice)
	}
}

func TestTypingEndRejectsIncompletePayload(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "c-a", "alice")
	drain(t, a)

	f.send(t, a, `{"type":"typing-end","payload":{"accuracy":93}}`)

	msgs := drain(t, a)
	if len(msgs) != 1 || msgs[0].Type != protocol.MsgError {
		t.Fatalf("expected a single error, got %+v", msgs)
	}
	if _, err := f.store.GetUserAggregate(context.Background(), "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("nothing should be persisted, got %v", err)
	}
}

func TestTypingRooms(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "c-a", "alice")
	b := f.connect(t, "c-b", "bob")
	c := f.connect(t, "c-c", "carol")

	f.send(t, a, `{"type":"join-typing-room","payload":{"roomId":"race"}}`)
	drain(t, a)
	drain(t, b)
	f.send(t, b, `{"type":"join-typing-room","payload":{"roomId":"race"}}`)

	joined := ofType(drain(t, a), protocol.MsgUserJoinedRoom)
	if len(joined) != 1 {
		t.Fatal("existing member should be told about the join")
	}
	var jp protocol.RoomUserPayload
	_ = joined[0].DecodePayload(&jp)
	if jp.RoomID != "race" || jp.UserID != "bob" {
		t.Fatalf("joined payload = %+v", jp)
	}

	bMsgs := drain(t, b)
	if len(ofType(bMsgs, protocol.MsgUserJoinedRoom)) != 0 {
		t.Fatal("joiner must not be told about itself")
	}
	parts := ofType(bMsgs, protocol.MsgRoomParticipants)
	var pp protocol.RoomParticipantsPayload
	_ = parts[0].DecodePayload(&pp)
	if pp.RoomID != "race" || len(pp.Participants) != 2 {
		t.Fatalf("participants = %+v", pp)
	}
	if len(ofType(drain(t, c), protocol.MsgUserJoinedRoom)) != 0 {
		t.Fatal("non-members must not see room traffic")
	}

	f.hub.Disconnect(b)
	left := ofType(drain(t, a), protocol.MsgUserLeftRoom)
	if len(left) != 1 {
		t.Fatal("remaining member should be told about the disconnect")
	}

	f.send(t, a, `{"type":"leave-typing-room","payload":{"roomId":"race"}}`)
	if len(f.hub.RoomMembers(hub.BuildRoomID(hub.RoomTypeTyping, "race"))) != 0 {
		t.Fatal("room should be empty")
	}
}

func TestTypingRoomNamedLeaderboardIsIsolated(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "c-a", "alice")
	f.send(t, a, `{"type":"join-typing-room","payload":{"roomId":"leaderboard"}}`)
	if len(f.hub.RoomMembers(hub.LeaderboardRoom)) != 0 {
		t.Fatal("typing room must not join the leaderboard room")
	}
}

func TestBroadcastSystemMessage(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "c-a", "alice")
	drain(t, a)

	if err := f.service.BroadcastSystemMessage(context.Background(), "", "info"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := f.service.BroadcastSystemMessage(context.Background(), "maintenance soon", "bogus"); err != nil {
		t.Fatal(err)
	}
	msgs := ofType(drain(t, a), protocol.MsgSystemMessage)
	var p protocol.SystemMessagePayload
	_ = msgs[0].DecodePayload(&p)
	if p.Message != "maintenance soon" || p.Type != protocol.SystemInfo {
		t.Fatalf("payload = %+v", p)
	}
}

func TestTypingStatusUpdatesPresence(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "c-a", "alice")
	b := f.connect(t, "c-b", "bob")
	drain(t, a)
	drain(t, b)

	f.send(t, a, `{"type":"typing-start"}`)
	p := lastOnline(t, drain(t, b))
	if !p.Users[0].IsTyping || p.Users[1].IsTyping {
		t.Fatalf("after typing-start = %+v", p.Users)
	}

	f.send(t, a, `{"type":"typing-status","payload":{"isTyping":false}}`)
	p = lastOnline(t, drain(t, b))
	if p.Users[0].IsTyping {
		t.Fatalf("after typing-status false = %+v", p.Users)
	}
}

func TestStartStopWithoutRedis(t *testing.T) {
	f := newFixture(t)
	if err := f.service.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.service.Stop()
	f.service.Stop()
}

func TestTrackerFollowsConnections(t *testing.T) {
	kv := newFakeHash()
	f := newFixture(t, WithTracker(NewTracker(kv, "inst-1", zerolog.Nop())))
	a1 := f.connect(t, "c-1", "alice")
	f.connect(t, "c-2", "alice")

	instances, err := f.service.UserInstances(context.Background(), "alice")
	if err != nil || len(instances) != 2 || instances[0] != "inst-1" {
		t.Fatalf("instances = %v, %v", instances, err)
	}

	f.hub.Disconnect(a1)
	if n, _ := kv.HLen(context.Background(), "presence:user:alice"); n != 1 {
		t.Fatalf("hash fields = %d", n)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TestCompletedEvent
}

func (r *recordingPublisher) PublishTestCompleted(_ context.Context, e events.TestCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fakeHash struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func newFakeHash() *fakeHash {
	return &fakeHash{data: map[string]map[string]string{}}
}

func (f *fakeHash) HSet(_ context.Context, key, field string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[key] == nil {
		f.data[key] = map[string]string{}
	}
	f.data[key][field] = "1"
	return nil
}

func (f *fakeHash) HDel(_ context.Context, key string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range fields {
		delete(f.data[key], field)
	}
	return nil
}

func (f *fakeHash) HLen(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data[key])), nil
}

func (f *fakeHash) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.data[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeHash) Expire(context.Context, string, time.Duration) error { return nil }
