package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

type MessageType string

// Client -> server.
const (
	MsgJoinLeaderboard  MessageType = "join-leaderboard"
	MsgLeaveLeaderboard MessageType = "leave-leaderboard"
	MsgTypingStart      MessageType = "typing-start"
	MsgTypingStatus     MessageType = "typing-status"
	MsgTypingUpdate     MessageType = "typing-update"
	MsgTypingEnd        MessageType = "typing-end"
	MsgTestCompleted    MessageType = "test-completed"
	MsgJoinTypingRoom   MessageType = "join-typing-room"
	MsgLeaveTypingRoom  MessageType = "leave-typing-room"
	MsgPing             MessageType = "ping"
)

// Server -> client.
const (
	MsgConnected         MessageType = "connected"
	MsgPong              MessageType = "pong"
	MsgError             MessageType = "error"
	MsgLeaderboardUpdate MessageType = "leaderboard-update"
	MsgOnlineUsersUpdate MessageType = "online-users-update"
	MsgUserTypingUpdate  MessageType = "user-typing-update"
	MsgTypingSaved       MessageType = "typing-saved"
	MsgUserJoinedRoom    MessageType = "user-joined-room"
	MsgUserLeftRoom      MessageType = "user-left-room"
	MsgRoomParticipants  MessageType = "room-participants"
	MsgSystemMessage     MessageType = "system-message"
)

var ErrMissingType = errors.New("message type is required")

// Message is the envelope every frame is wrapped in.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return &msg, nil
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	return NewMessageWithRequestID(msgType, payload, "")
}

func NewMessageWithRequestID(msgType MessageType, payload interface{}, requestID string) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}

func NewErrorMessage(code, message, requestID string) (*Message, error) {
	return NewMessageWithRequestID(MsgError, ErrorPayload{Code: code, Message: message}, requestID)
}

func (m *Message) ToBytes() ([]byte, error) {
	return json.Marshal(m)
}

// DecodePayload unmarshals the raw payload into v.
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Payload, v)
}
