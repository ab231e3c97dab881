package protocol

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid payload")
)

var validate = validator.New()

// Inbound is the closed set of messages a client may send. Decode is the only
// constructor; handlers switch on the concrete type.
type Inbound interface {
	Type() MessageType
	inbound()
}

type JoinLeaderboard struct{}

type LeaveLeaderboard struct{}

type TypingStatus struct {
	IsTyping bool
}

type TypingUpdate struct {
	WPM      float64
	Accuracy float64
	Progress float64
}

// TypingEnd carries a finished test result.
type TypingEnd struct {
	Result TestResultPayload
}

type JoinTypingRoom struct {
	RoomID string
}

type LeaveTypingRoom struct {
	RoomID string
}

type Ping struct{}

func (JoinLeaderboard) Type() MessageType  { return MsgJoinLeaderboard }
func (LeaveLeaderboard) Type() MessageType { return MsgLeaveLeaderboard }
func (TypingStatus) Type() MessageType     { return MsgTypingStatus }
func (TypingUpdate) Type() MessageType     { return MsgTypingUpdate }
func (TypingEnd) Type() MessageType        { return MsgTypingEnd }
func (JoinTypingRoom) Type() MessageType   { return MsgJoinTypingRoom }
func (LeaveTypingRoom) Type() MessageType  { return MsgLeaveTypingRoom }
func (Ping) Type() MessageType             { return MsgPing }

func (JoinLeaderboard) inbound()  {}
func (LeaveLeaderboard) inbound() {}
func (TypingStatus) inbound()     {}
func (TypingUpdate) inbound()     {}
func (TypingEnd) inbound()        {}
func (JoinTypingRoom) inbound()   {}
func (LeaveTypingRoom) inbound()  {}
func (Ping) inbound()             {}

type typingStatusWire struct {
	IsTyping *bool `json:"isTyping" validate:"required"`
}

type typingUpdateWire struct {
	WPM      *float64 `json:"wpm" validate:"required,gte=0"`
	Accuracy *float64 `json:"accuracy" validate:"required,gte=0,lte=100"`
	Progress *float64 `json:"progress" validate:"omitempty,gte=0,lte=100"`
}

type testResultWire struct {
	WPM         *float64 `json:"wpm" validate:"required,gte=0"`
	Accuracy    *float64 `json:"accuracy" validate:"required,gte=0,lte=100"`
	Errors      int      `json:"errors" validate:"gte=0"`
	Consistency *float64 `json:"consistency" validate:"omitempty,gte=0,lte=100"`
	WordsTyped  int      `json:"wordsTyped" validate:"gte=0"`
	TimeSpent   int      `json:"timeSpent" validate:"gte=0"`
	TestType    string   `json:"testType" validate:"omitempty,max=32"`
	Difficulty  string   `json:"difficulty" validate:"omitempty,max=32"`
	Duration    int      `json:"duration" validate:"gte=0"`
	TextContent string   `json:"textContent" validate:"max=20000"`
}

type roomWire struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

// Decode validates msg and returns its typed variant. Nothing is returned
// unless every required field is present and in range.
func Decode(msg *Message) (Inbound, error) {
	switch msg.Type {
	case MsgJoinLeaderboard:
		return JoinLeaderboard{}, nil
	case MsgLeaveLeaderboard:
		return LeaveLeaderboard{}, nil
	case MsgPing:
		return Ping{}, nil
	case MsgTypingStart:
		if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
			return TypingStatus{IsTyping: true}, nil
		}
		var w typingStatusWire
		if err := decodeInto(msg, &w); err != nil {
			return nil, err
		}
		return TypingStatus{IsTyping: *w.IsTyping}, nil
	case MsgTypingStatus:
		var w typingStatusWire
		if err := decodeInto(msg, &w); err != nil {
			return nil, err
		}
		return TypingStatus{IsTyping: *w.IsTyping}, nil
	case MsgTypingUpdate:
		var w typingUpdateWire
		if err := decodeInto(msg, &w); err != nil {
			return nil, err
		}
		out := TypingUpdate{WPM: *w.WPM, Accuracy: *w.Accuracy}
		if w.Progress != nil {
			out.Progress = *w.Progress
		}
		return out, nil
	case MsgTypingEnd, MsgTestCompleted:
		var w testResultWire
		if err := decodeInto(msg, &w); err != nil {
			return nil, err
		}
		res := TestResultPayload{
			WPM:         *w.WPM,
			Accuracy:    *w.Accuracy,
			Errors:      w.Errors,
			WordsTyped:  w.WordsTyped,
			TimeSpent:   w.TimeSpent,
			TestType:    w.TestType,
			Difficulty:  w.Difficulty,
			Duration:    w.Duration,
			TextContent: w.TextContent,
		}
		if w.Consistency != nil {
			res.Consistency = *w.Consistency
		}
		return TypingEnd{Result: res}, nil
	case MsgJoinTypingRoom:
		var w roomWire
		if err := decodeInto(msg, &w); err != nil {
			return nil, err
		}
		return JoinTypingRoom{RoomID: w.RoomID}, nil
	case MsgLeaveTypingRoom:
		var w roomWire
		if err := decodeInto(msg, &w); err != nil {
			return nil, err
		}
		return LeaveTypingRoom{RoomID: w.RoomID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

func decodeInto(msg *Message, v interface{}) error {
	if err := msg.DecodePayload(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, msg.Type, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, msg.Type, err)
	}
	return nil
}
