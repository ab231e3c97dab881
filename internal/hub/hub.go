package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/rs/zerolog"
)

const handlerTimeout = 10 * time.Second

// Handler receives validated inbound events and disconnect notifications.
// rooms lists the rooms the client was removed from.
type Handler interface {
	HandleMessage(ctx context.Context, client *Client, msg protocol.Inbound, requestID string)
	HandleDisconnect(ctx context.Context, client *Client, rooms []string)
}

type Hub struct {
	clients     map[*Client]bool
	userClients map[string]map[*Client]bool
	mu          sync.RWMutex
	rooms       *RoomManager
	handler     Handler
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		rooms:       NewRoomManager(),
		metrics:     m,
		logger:      logger.With().Str("component", "hub").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	if h.userClients[client.UserID] == nil {
		h.userClients[client.UserID] = make(map[*Client]bool)
	}
	h.userClients[client.UserID][client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.IncConnections()
	h.logger.Info().
		Str("clientId", client.ID).
		Str("userId", client.UserID).
		Int("totalClients", total).
		Msg("Client registered")
}

// Unregister removes client from the hub and every room it joined, closes its
// send buffer and returns the rooms it left. A second call returns nil.
func (h *Hub) Unregister(client *Client) []string {
	left, _ := h.unregister(client)
	return left
}

func (h *Hub) unregister(client *Client) ([]string, bool) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return nil, false
	}
	delete(h.clients, client)
	if userClients, ok := h.userClients[client.UserID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.userClients, client.UserID)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	left := h.rooms.LeaveAllRooms(client)
	for _, roomID := range left {
		h.metrics.DecRoomConnections(string(ParseRoomType(roomID)))
	}
	client.close()
	h.metrics.DecConnections()

	h.logger.Info().
		Str("clientId", client.ID).
		Str("userId", client.UserID).
		Int("totalClients", total).
		Msg("Client unregistered")
	return left, true
}

// Disconnect unregisters client and then notifies the handler, so every
// broadcast the handler makes already excludes the departed connection.
func (h *Hub) Disconnect(client *Client) {
	rooms, ok := h.unregister(client)
	if !ok || h.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, handlerTimeout)
	defer cancel()
	h.handler.HandleDisconnect(ctx, client, rooms)
}

// Shutdown closes every connection's send buffer so the write pumps send a
// close frame and exit. The handler is not notified.
func (h *Hub) Shutdown() {
	h.cancel()
	for _, client := range h.Clients() {
		h.Unregister(client)
	}
}

func (h *Hub) ProcessMessage(client *Client, data []byte) {
	start := time.Now()
	defer func() { h.metrics.ObserveLatency(time.Since(start).Seconds()) }()

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to parse message")
		h.sendError(client, "PARSE_ERROR", "Invalid message format", "")
		return
	}
	h.metrics.IncMessagesReceived(string(msg.Type))

	h.logger.Debug().
		Str("clientId", client.ID).
		Str("type", string(msg.Type)).
		Msg("Processing message")

	event, err := protocol.Decode(msg)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrUnknownType):
			h.sendError(client, "UNKNOWN_TYPE", "Unknown message type", msg.RequestID)
		default:
			h.logger.Warn().Err(err).Str("clientId", client.ID).Str("type", string(msg.Type)).Msg("Rejected payload")
			h.sendError(client, "INVALID_PAYLOAD", err.Error(), msg.RequestID)
		}
		return
	}

	if _, ok := event.(protocol.Ping); ok {
		response, _ := protocol.NewMessageWithRequestID(protocol.MsgPong, nil, msg.RequestID)
		h.SendToClient(client, response)
		return
	}

	if h.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, handlerTimeout)
	defer cancel()
	h.handler.HandleMessage(ctx, client, event, msg.RequestID)
}

// JoinRoom reports false when client was already in roomID.
func (h *Hub) JoinRoom(client *Client, roomID string) bool {
	room, added := h.rooms.JoinRoom(roomID, client)
	if added {
		h.metrics.IncRoomConnections(string(room.Type))
		h.logger.Debug().
			Str("clientId", client.ID).
			Str("roomId", roomID).
			Int("memberCount", room.ClientCount()).
			Msg("Client joined room")
	}
	return added
}

// LeaveRoom reports false when client was not in roomID.
func (h *Hub) LeaveRoom(client *Client, roomID string) bool {
	removed := h.rooms.LeaveRoom(roomID, client)
	if removed {
		h.metrics.DecRoomConnections(string(ParseRoomType(roomID)))
		h.logger.Debug().
			Str("clientId", client.ID).
			Str("roomId", roomID).
			Msg("Client left room")
	}
	return removed
}

func (h *Hub) RoomMembers(roomID string) []*Client {
	room := h.rooms.GetRoom(roomID)
	if room == nil {
		return nil
	}
	return room.GetClients()
}

func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SendToClient(client *Client, msg *protocol.Message) {
	data, err := msg.ToBytes()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to serialize message")
		return
	}
	h.deliver(client, data)
}

func (h *Hub) SendToRoom(roomID string, msg *protocol.Message) {
	h.SendToRoomExcept(roomID, msg, nil)
}

func (h *Hub) SendToRoomExcept(roomID string, msg *protocol.Message, except *Client) {
	h.fanOut(h.RoomMembers(roomID), msg, except)
}

func (h *Hub) Broadcast(msg *protocol.Message) {
	h.BroadcastExcept(msg, nil)
}

func (h *Hub) BroadcastExcept(msg *protocol.Message, except *Client) {
	h.fanOut(h.Clients(), msg, except)
}

func (h *Hub) fanOut(clients []*Client, msg *protocol.Message, except *Client) {
	if len(clients) == 0 {
		return
	}
	data, err := msg.ToBytes()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to serialize message")
		return
	}
	for _, client := range clients {
		if client == except {
			continue
		}
		h.deliver(client, data)
	}
}

// deliver never blocks: a full buffer drops the message for that client only.
func (h *Hub) deliver(client *Client, data []byte) {
	if client.trySend(data) {
		h.metrics.IncMessagesSent()
		return
	}
	h.metrics.IncMessagesDropped()
	h.logger.Warn().Str("clientId", client.ID).Msg("Client send buffer full or closed, dropping message")
}

func (h *Hub) sendError(client *Client, code, message, requestID string) {
	errMsg, _ := protocol.NewErrorMessage(code, message, requestID)
	h.SendToClient(client, errMsg)
}

func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	typingRooms := make(map[string]int)
	for _, room := range h.rooms.GetRoomsByType(RoomTypeTyping) {
		typingRooms[ExtractRoomEntityID(room.ID)] = room.ClientCount()
	}
	return map[string]interface{}{
		"totalClients": len(h.clients),
		"totalUsers":   len(h.userClients),
		"rooms":        h.rooms.GetStats(),
		"typingRooms":  typingRooms,
	}
}
