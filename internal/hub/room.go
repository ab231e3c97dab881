package hub

import (
	"strings"
	"sync"
	"time"
)

type RoomType string

const (
	RoomTypeGlobal      RoomType = "global"
	RoomTypeLeaderboard RoomType = "leaderboard"
	RoomTypeTyping      RoomType = "typing-room"
)

// LeaderboardRoom is the single room that receives leaderboard pushes.
const LeaderboardRoom = "leaderboard"

type Room struct {
	ID        string
	Type      RoomType
	CreatedAt time.Time

	clients map[*Client]bool
	mu      sync.RWMutex
}

func NewRoom(id string) *Room {
	return &Room{
		ID:        id,
		Type:      ParseRoomType(id),
		CreatedAt: time.Now(),
		clients:   make(map[*Client]bool),
	}
}

func ParseRoomType(roomID string) RoomType {
	if roomID == LeaderboardRoom {
		return RoomTypeLeaderboard
	}

	parts := strings.SplitN(roomID, ":", 2)
	if len(parts) != 2 {
		return RoomTypeGlobal
	}

	switch RoomType(parts[0]) {
	case RoomTypeTyping:
		return RoomTypeTyping
	default:
		return RoomTypeGlobal
	}
}

func ExtractRoomEntityID(roomID string) string {
	parts := strings.SplitN(roomID, ":", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return roomID
}

// BuildRoomID namespaces a client supplied id so it cannot collide with the
// leaderboard room.
func BuildRoomID(roomType RoomType, entityID string) string {
	switch roomType {
	case RoomTypeLeaderboard:
		return LeaderboardRoom
	case RoomTypeGlobal:
		return string(RoomTypeGlobal)
	}
	return string(roomType) + ":" + entityID
}

func (r *Room) add(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[client] {
		return false
	}
	r.clients[client] = true
	return true
}

func (r *Room) remove(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.clients[client] {
		return false
	}
	delete(r.clients, client)
	return true
}

func (r *Room) GetClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Room) IsEmpty() bool {
	return r.ClientCount() == 0
}

// RoomManager owns room membership. Joins and leaves take the manager lock
// so an empty room is never deleted while a client is being added to it.
type RoomManager struct {
	rooms map[string]*Room
	mu    sync.RWMutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
	}
}

func (rm *RoomManager) GetRoom(roomID string) *Room {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.rooms[roomID]
}

// JoinRoom adds client to roomID, creating the room on first use. It
// reports false when the client was already a member.
func (rm *RoomManager) JoinRoom(roomID string, client *Client) (*Room, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		room = NewRoom(roomID)
		rm.rooms[roomID] = room
	}
	added := room.add(client)
	client.joinRoom(roomID)
	return room, added
}

// LeaveRoom removes client from roomID and drops the room once empty. The
// leaderboard room is kept. It reports whether the client was a member.
func (rm *RoomManager) LeaveRoom(roomID string, client *Client) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	client.leaveRoom(roomID)
	room := rm.rooms[roomID]
	if room == nil {
		return false
	}
	removed := room.remove(client)
	if room.IsEmpty() && room.Type != RoomTypeLeaderboard {
		delete(rm.rooms, roomID)
	}
	return removed
}

// LeaveAllRooms removes client from every room and returns the ids it left.
func (rm *RoomManager) LeaveAllRooms(client *Client) []string {
	rooms := client.GetRooms()
	left := make([]string, 0, len(rooms))
	for _, roomID := range rooms {
		if rm.LeaveRoom(roomID, client) {
			left = append(left, roomID)
		}
	}
	return left
}

// GetRoomsByType lists the live rooms of one kind.
func (rm *RoomManager) GetRoomsByType(roomType RoomType) []*Room {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var result []*Room
	for _, room := range rm.rooms {
		if room.Type == roomType {
			result = append(result, room)
		}
	}
	return result
}

func (rm *RoomManager) GetStats() map[string]interface{} {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	typeCount := make(map[RoomType]int)
	totalClients := 0

	for _, room := range rm.rooms {
		typeCount[room.Type]++
		totalClients += room.ClientCount()
	}

	return map[string]interface{}{
		"totalRooms":   len(rm.rooms),
		"totalClients": totalClients,
		"byType":       typeCount,
	}
}
