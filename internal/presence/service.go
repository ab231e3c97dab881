// Package presence tracks live typing sessions, relays progress between
// connections and turns finished tests into leaderboard updates.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/hub"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/leaderboard"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	redisclient "github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/redis"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/events"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	DefaultPreviewSize = 10
	refreshInterval    = 2 * time.Minute
	saveFailedMessage  = "Failed to save result"
)

var ErrEmptyMessage = errors.New("system message is empty")

// Entry is the live, unpersisted state of one connection.
type Entry struct {
	ConnectionID string
	UserID       string
	Username     string
	CurrentWPM   float64
	IsTyping     bool
	JoinedAt     time.Time
}

func (e Entry) toWire() protocol.OnlineUser {
	return protocol.OnlineUser{
		ID:         e.ConnectionID,
		UserID:     e.UserID,
		Username:   e.Username,
		CurrentWPM: e.CurrentWPM,
		IsTyping:   e.IsTyping,
		JoinedAt:   e.JoinedAt,
	}
}

type Recorder interface {
	Record(ctx context.Context, session store.TestSession) (store.TestSession, error)
}

type Board interface {
	Snapshot(ctx context.Context, w leaderboard.Window, limit int) ([]leaderboard.Row, error)
	Invalidate(ctx context.Context)
}

// ResultPublisher forwards persisted sessions to downstream consumers.
type ResultPublisher interface {
	PublishTestCompleted(ctx context.Context, event events.TestCompletedEvent) error
}

type Service struct {
	hub       *hub.Hub
	recorder  Recorder
	board     Board
	tracker   *Tracker
	fanout    *redisclient.PubSub
	publisher ResultPublisher
	metrics   *metrics.Metrics

	entries map[string]*Entry
	mu      sync.RWMutex

	instanceID  string
	previewSize int
	window      leaderboard.Window
	limit       int
	now         func() time.Time
	logger      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Service)

func WithTracker(t *Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithFanout relays leaderboard and system broadcasts to other instances.
func WithFanout(p *redisclient.PubSub) Option {
	return func(s *Service) {
		s.fanout = p
		s.instanceID = p.InstanceID()
	}
}

func WithPublisher(p ResultPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPreviewSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.previewSize = n
		}
	}
}

func WithLeaderboardLimit(n int) Option {
	return func(s *Service) { s.limit = leaderboard.ClampLimit(n) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(h *hub.Hub, recorder Recorder, board Board, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		hub:         h,
		recorder:    recorder,
		board:       board,
		entries:     make(map[string]*Entry),
		instanceID:  "local",
		previewSize: DefaultPreviewSize,
		window:      leaderboard.WindowAll,
		limit:       leaderboard.DefaultLimit,
		now:         time.Now,
		logger:      logger.With().Str("component", "presence").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	h.SetHandler(s)
	return s
}

// Start begins the redis presence refresh loop and the cross-instance
// subscription when those are configured.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.fanout != nil {
		if err := s.fanout.Start(ctx, s.handleRemote, hub.LeaderboardRoom); err != nil {
			cancel()
			return err
		}
	}
	if s.tracker != nil {
		s.wg.Add(1)
		go s.refreshLoop(ctx)
	}
	s.logger.Info().Msg("Presence service started")
	return nil
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.fanout != nil {
		if err := s.fanout.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop pubsub")
		}
	}
	s.wg.Wait()
	s.logger.Info().Msg("Presence service stopped")
}

func (s *Service) refreshLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range s.snapshotEntries() {
				if err := s.tracker.Refresh(ctx, e.UserID, e.ConnectionID); err != nil {
					s.logger.Warn().Err(err).Str("userId", e.UserID).Msg("Failed to refresh presence")
				}
			}
		}
	}
}

func (s *Service) handleRemote(envelope *redisclient.Envelope) {
	if envelope.TargetRoom != "" {
		s.hub.SendToRoom(envelope.TargetRoom, envelope.Message)
		return
	}
	s.hub.Broadcast(envelope.Message)
}

// Connect adds a presence entry for a registered client, greets it and tells
// everyone the online list changed.
func (s *Service) Connect(ctx context.Context, client *hub.Client) {
	entry := &Entry{
		ConnectionID: client.ID,
		UserID:       client.UserID,
		Username:     client.Username,
		JoinedAt:     s.now(),
	}
	s.mu.Lock()
	s.entries[client.ID] = entry
	count := len(s.entries)
	s.mu.Unlock()
	s.metrics.SetOnlineUsers(count)

	greeting, _ := protocol.NewMessage(protocol.MsgConnected, protocol.ConnectedPayload{
		ConnectionID: client.ID,
		UserID:       client.UserID,
		Username:     client.Username,
		InstanceID:   s.instanceID,
	})
	s.hub.SendToClient(client, greeting)
	s.broadcastOnlineUsers()

	if s.tracker != nil {
		if err := s.tracker.SetOnline(ctx, client.UserID, client.ID); err != nil {
			s.logger.Warn().Err(err).Str("userId", client.UserID).Msg("Failed to mark user online")
		}
	}

	s.logger.Info().
		Str("clientId", client.ID).
		Str("userId", client.UserID).
		Int("online", count).
		Msg("User connected")
}

// HandleDisconnect runs after the hub has removed the client from every
// room, so nothing below can reach the departed connection.
func (s *Service) HandleDisconnect(ctx context.Context, client *hub.Client, rooms []string) {
	s.mu.Lock()
	delete(s.entries, client.ID)
	count := len(s.entries)
	s.mu.Unlock()
	s.metrics.SetOnlineUsers(count)

	typingRooms := lo.Filter(rooms, func(id string, _ int) bool {
		return hub.ParseRoomType(id) == hub.RoomTypeTyping
	})
	for _, roomID := range typingRooms {
		s.notifyLeft(client, roomID)
	}
	s.broadcastOnlineUsers()

	if s.tracker != nil {
		if err := s.tracker.SetOffline(ctx, client.UserID, client.ID); err != nil {
			s.logger.Warn().Err(err).Str("userId", client.UserID).Msg("Failed to mark user offline")
		}
	}

	s.logger.Info().
		Str("clientId", client.ID).
		Str("userId", client.UserID).
		Int("online", count).
		Msg("User disconnected")
}

func (s *Service) HandleMessage(ctx context.Context, client *hub.Client, msg protocol.Inbound, requestID string) {
	switch m := msg.(type) {
	case protocol.JoinLeaderboard:
		s.handleJoinLeaderboard(ctx, client, requestID)
	case protocol.LeaveLeaderboard:
		s.hub.LeaveRoom(client, hub.LeaderboardRoom)
	case protocol.TypingStatus:
		s.updateEntry(client.ID, func(e *Entry) { e.IsTyping = m.IsTyping })
		s.broadcastOnlineUsers()
	case protocol.TypingUpdate:
		s.handleTypingUpdate(client, m)
	case protocol.TypingEnd:
		s.handleTypingEnd(ctx, client, m.Result, requestID)
	case protocol.JoinTypingRoom:
		s.handleJoinTypingRoom(client, m.RoomID, requestID)
	case protocol.LeaveTypingRoom:
		roomID := hub.BuildRoomID(hub.RoomTypeTyping, m.RoomID)
		if s.hub.LeaveRoom(client, roomID) {
			s.notifyLeft(client, roomID)
		}
	default:
		s.logger.Warn().Str("type", string(msg.Type())).Msg("Unhandled event")
	}
}

func (s *Service) handleJoinLeaderboard(ctx context.Context, client *hub.Client, requestID string) {
	s.hub.JoinRoom(client, hub.LeaderboardRoom)

	msg, err := s.leaderboardMessage(ctx, requestID)
	if err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to build leaderboard snapshot")
		errMsg, _ := protocol.NewErrorMessage("LEADERBOARD_UNAVAILABLE", "Failed to fetch leaderboard data", requestID)
		s.hub.SendToClient(client, errMsg)
		return
	}
	s.hub.SendToClient(client, msg)
}

func (s *Service) handleTypingUpdate(client *hub.Client, m protocol.TypingUpdate) {
	s.updateEntry(client.ID, func(e *Entry) {
		e.CurrentWPM = m.WPM
		e.IsTyping = true
	})
	update, _ := protocol.NewMessage(protocol.MsgUserTypingUpdate, protocol.UserTypingUpdatePayload{
		UserID:   client.UserID,
		Username: client.Username,
		WPM:      m.WPM,
		Accuracy: m.Accuracy,
		Progress: m.Progress,
	})
	s.hub.BroadcastExcept(update, client)
}

func (s *Service) handleTypingEnd(ctx context.Context, client *hub.Client, result protocol.TestResultPayload, requestID string) {
	// Presence is best effort and updates whatever happens to persistence.
	s.updateEntry(client.ID, func(e *Entry) {
		e.IsTyping = false
		e.CurrentWPM = result.WPM
	})

	userID := client.UserID
	saved, err := s.recorder.Record(ctx, store.TestSession{
		UserID:      &userID,
		WPM:         result.WPM,
		Accuracy:    result.Accuracy,
		Errors:      result.Errors,
		Consistency: result.Consistency,
		WordsTyped:  result.WordsTyped,
		TimeSpent:   result.TimeSpent,
		TestType:    result.TestType,
		Difficulty:  result.Difficulty,
		Duration:    result.Duration,
		TextContent: result.TextContent,
	})

	var ack protocol.TypingSavedPayload
	if err != nil {
		s.metrics.IncTestsCompleted("error")
		s.logger.Error().Err(err).
			Str("clientId", client.ID).
			Str("userId", userID).
			Msg("Failed to save test result")
		ack = protocol.TypingSavedPayload{Success: false, Error: saveFailedMessage}
	} else {
		s.metrics.IncTestsCompleted("ok")
		ack = protocol.TypingSavedPayload{Success: true, TestID: saved.ID}
	}
	reply, _ := protocol.NewMessageWithRequestID(protocol.MsgTypingSaved, ack, requestID)
	s.hub.SendToClient(client, reply)

	if err == nil {
		s.board.Invalidate(ctx)
		if err := s.BroadcastLeaderboard(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to broadcast leaderboard")
		}
	}
	s.broadcastOnlineUsers()

	if err == nil && s.publisher != nil {
		event := events.TestCompletedEvent{
			TestID:      saved.ID,
			UserID:      saved.UserID,
			Username:    client.Username,
			WPM:         saved.WPM,
			Accuracy:    saved.Accuracy,
			Consistency: saved.Consistency,
			Errors:      saved.Errors,
			WordsTyped:  saved.WordsTyped,
			TimeSpent:   saved.TimeSpent,
			TestType:    saved.TestType,
			Difficulty:  saved.Difficulty,
			InstanceID:  s.instanceID,
			Timestamp:   saved.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := s.publisher.PublishTestCompleted(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("testId", saved.ID).Msg("Failed to publish test completion")
		}
	}
}

func (s *Service) handleJoinTypingRoom(client *hub.Client, id, requestID string) {
	roomID := hub.BuildRoomID(hub.RoomTypeTyping, id)
	if s.hub.JoinRoom(client, roomID) {
		joined, _ := protocol.NewMessage(protocol.MsgUserJoinedRoom, protocol.RoomUserPayload{
			RoomID:   id,
			UserID:   client.UserID,
			Username: client.Username,
		})
		s.hub.SendToRoomExcept(roomID, joined, client)
	}

	members := s.hub.RoomMembers(roomID)
	s.mu.RLock()
	participants := lo.FilterMap(members, func(c *hub.Client, _ int) (protocol.OnlineUser, bool) {
		e, ok := s.entries[c.ID]
		if !ok {
			return protocol.OnlineUser{}, false
		}
		return e.toWire(), true
	})
	s.mu.RUnlock()
	sortOnline(participants)

	reply, _ := protocol.NewMessageWithRequestID(protocol.MsgRoomParticipants, protocol.RoomParticipantsPayload{
		RoomID:       id,
		Participants: participants,
	}, requestID)
	s.hub.SendToClient(client, reply)
}

func (s *Service) notifyLeft(client *hub.Client, roomID string) {
	left, _ := protocol.NewMessage(protocol.MsgUserLeftRoom, protocol.RoomUserPayload{
		RoomID:   hub.ExtractRoomEntityID(roomID),
		UserID:   client.UserID,
		Username: client.Username,
	})
	s.hub.SendToRoom(roomID, left)
}

func (s *Service) updateEntry(connectionID string, fn func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[connectionID]; ok {
		fn(e)
	}
}

func (s *Service) leaderboardMessage(ctx context.Context, requestID string) (*protocol.Message, error) {
	rows, err := s.board.Snapshot(ctx, s.window, s.limit)
	if err != nil {
		return nil, err
	}
	entries, err := leaderboard.Entries(rows)
	if err != nil {
		return nil, err
	}
	return protocol.NewMessageWithRequestID(protocol.MsgLeaderboardUpdate, entries, requestID)
}

// BroadcastLeaderboard pushes a fresh snapshot to the leaderboard room here
// and on every other instance.
func (s *Service) BroadcastLeaderboard(ctx context.Context) error {
	msg, err := s.leaderboardMessage(ctx, "")
	if err != nil {
		return err
	}
	s.hub.SendToRoom(hub.LeaderboardRoom, msg)
	if s.fanout != nil {
		if err := s.fanout.PublishToRoom(ctx, hub.LeaderboardRoom, msg); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to relay leaderboard")
		}
	}
	return nil
}

// RefreshLeaderboard drops cached snapshots and broadcasts a fresh one.
func (s *Service) RefreshLeaderboard(ctx context.Context) error {
	s.board.Invalidate(ctx)
	return s.BroadcastLeaderboard(ctx)
}

// BroadcastSystemMessage sends an operator notice to every connection. An
// unknown kind is sent as info.
func (s *Service) BroadcastSystemMessage(ctx context.Context, message, kind string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	msg, err := protocol.NewMessage(protocol.MsgSystemMessage, protocol.SystemMessagePayload{
		Message:   message,
		Type:      protocol.ParseSystemMessageKind(kind),
		Timestamp: s.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	s.hub.Broadcast(msg)
	if s.fanout != nil {
		if err := s.fanout.PublishBroadcast(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to relay system message")
		}
	}
	return nil
}

func (s *Service) broadcastOnlineUsers() {
	users := s.OnlineUsers()
	preview := users
	if len(preview) > s.previewSize {
		preview = preview[:s.previewSize]
	}
	msg, err := protocol.NewMessage(protocol.MsgOnlineUsersUpdate, protocol.OnlineUsersPayload{
		Count: len(users),
		Users: preview,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build online users update")
		return
	}
	s.hub.Broadcast(msg)
}

// OnlineUsers lists every local connection, oldest first.
func (s *Service) OnlineUsers() []protocol.OnlineUser {
	entries := s.snapshotEntries()
	users := lo.Map(entries, func(e Entry, _ int) protocol.OnlineUser { return e.toWire() })
	sortOnline(users)
	return users
}

func (s *Service) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IsUserOnline checks local connections first, then the shared tracker.
func (s *Service) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	for _, e := range s.entries {
		if e.UserID == userID {
			s.mu.RUnlock()
			return true, nil
		}
	}
	s.mu.RUnlock()
	if s.tracker == nil {
		return false, nil
	}
	return s.tracker.IsOnline(ctx, userID)
}

// UserInstances reports which instances hold a connection for userID. Without
// a tracker only this instance is known.
func (s *Service) UserInstances(ctx context.Context, userID string) ([]string, error) {
	if s.tracker != nil {
		return s.tracker.UserInstances(ctx, userID)
	}
	online, _ := s.IsUserOnline(ctx, userID)
	if !online {
		return []string{}, nil
	}
	return []string{s.instanceID}, nil
}

func (s *Service) snapshotEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

func sortOnline(users []protocol.OnlineUser) {
	sort.SliceStable(users, func(i, j int) bool {
		if !users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].JoinedAt.Before(users[j].JoinedAt)
		}
		return users[i].ID < users[j].ID
	})
}
