// Package store persists users, test sessions and per-user aggregates.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("store: not found")

type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// TestSession is an append-only record of one finished attempt.
type TestSession struct {
	ID          string
	UserID      *string
	WPM         float64
	Accuracy    float64
	Errors      int
	Consistency float64
	WordsTyped  int
	TimeSpent   int
	TestType    string
	Difficulty  string
	Duration    int
	TextContent string
	CreatedAt   time.Time
}

// Aggregate is the only mutable per-user statistics row.
type Aggregate struct {
	UserID          string
	BestWPM         float64
	AverageWPM      float64
	AverageAccuracy float64
	BestAccuracy    float64
	TotalTests      int
	TotalWords      int
	TotalTime       int
	UpdatedAt       time.Time
}

// Candidate is one user's input to the leaderboard: their aggregate, the best
// WPM and session count inside the requested window, and their newest
// sessions in that window without passage text.
type Candidate struct {
	User        User
	Aggregate   Aggregate
	WindowBest  float64
	WindowTests int
	Recent      []TestSession
}

// FoldFunc derives a user's new aggregate from the stored one. It receives a
// zero Aggregate carrying only UserID when the user has none yet.
type FoldFunc func(Aggregate) (Aggregate, error)

type Store interface {
	GetUser(ctx context.Context, id string) (User, error)
	UpsertUser(ctx context.Context, u User) error
	// RecordSession inserts s and, when it belongs to a user, replaces that
	// user's aggregate with fold's result. Both writes commit together or not
	// at all; an error from fold aborts the session insert too. Concurrent
	// calls for one user are serialised. The returned aggregate is zero for
	// anonymous sessions.
	RecordSession(ctx context.Context, s *TestSession, fold FoldFunc) (Aggregate, error)
	GetUserAggregate(ctx context.Context, userID string) (Aggregate, error)
	// QueryLeaderboard returns every user with at least one session created
	// at or after since, ordered by member since then id. A zero since means
	// all time. Each candidate carries at most recent sessions, newest first.
	QueryLeaderboard(ctx context.Context, since time.Time, recent int) ([]Candidate, error)
	Close() error
}

func stampSession(s *TestSession, now func() time.Time) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}
}

func applyFold(userID string, current Aggregate, fold FoldFunc, now func() time.Time) (Aggregate, error) {
	current.UserID = userID
	next, err := fold(current)
	if err != nil {
		return Aggregate{}, err
	}
	next.UserID = userID
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now()
	}
	return next, nil
}
