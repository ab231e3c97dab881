package protocol

import "time"

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	InstanceID   string `json:"instanceId"`
}

// LeaderboardEntry is one ranked row. A leaderboard-update payload is a
// JSON array of these.
type LeaderboardEntry struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	BestWPM     float64   `json:"bestWpm"`
	AvgAccuracy float64   `json:"avgAccuracy"`
	TotalTests  int       `json:"totalTests"`
	CreatedAt   time.Time `json:"createdAt"`
	Rank        int       `json:"rank"`
}

type OnlineUser struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	CurrentWPM float64   `json:"currentWpm"`
	IsTyping   bool      `json:"isTyping"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// OnlineUsersPayload carries the true connection count next to a
// truncated preview list.
type OnlineUsersPayload struct {
	Count int          `json:"count"`
	Users []OnlineUser `json:"users"`
}

type UserTypingUpdatePayload struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Progress float64 `json:"progress"`
}

type TypingSavedPayload struct {
	Success bool   `json:"success"`
	TestID  string `json:"testId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type RoomUserPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type RoomParticipantsPayload struct {
	RoomID       string       `json:"roomId"`
	Participants []OnlineUser `json:"participants"`
}

type SystemMessageKind string

const (
	SystemInfo    SystemMessageKind = "info"
	SystemWarning SystemMessageKind = "warning"
	SystemSuccess SystemMessageKind = "success"
)

func ParseSystemMessageKind(s string) SystemMessageKind {
	switch SystemMessageKind(s) {
	case SystemWarning:
		return SystemWarning
	case SystemSuccess:
		return SystemSuccess
	default:
		return SystemInfo
	}
}

type SystemMessagePayload struct {
	Message   string            `json:"message"`
	Type      SystemMessageKind `json:"type"`
	Timestamp int64             `json:"timestamp"`
}

// Outbound shapes the client sends. Kept next to the server payloads so the
// terminal client and the decoder agree on field names.

type TypingStatusPayload struct {
	IsTyping bool `json:"isTyping"`
}

type TypingUpdatePayload struct {
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Progress float64 `json:"progress"`
	IsTyping bool    `json:"isTyping"`
}

type TestResultPayload struct {
	WPM         float64 `json:"wpm"`
	Accuracy    float64 `json:"accuracy"`
	Errors      int     `json:"errors"`
	Consistency float64 `json:"consistency"`
	WordsTyped  int     `json:"wordsTyped"`
	TimeSpent   int     `json:"timeSpent"`
	TestType    string  `json:"testType,omitempty"`
	Difficulty  string  `json:"difficulty,omitempty"`
	Duration    int     `json:"duration,omitempty"`
	TextContent string  `json:"textContent,omitempty"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}
