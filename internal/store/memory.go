package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Memory keeps everything in process. Used for local runs and tests.
type Memory struct {
	mu         sync.RWMutex
	users      map[string]User
	sessions   []TestSession
	aggregates map[string]Aggregate
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]User),
		aggregates: make(map[string]Aggregate),
		now:        time.Now,
	}
}

func (m *Memory) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) UpsertUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		existing.Username = u.Username
		m.users[u.ID] = existing
		return nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) RecordSession(_ context.Context, s *TestSession, fold FoldFunc) (Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stampSession(s, m.now)
	if s.UserID == nil {
		m.sessions = append(m.sessions, *s)
		return Aggregate{}, nil
	}

	userID := *s.UserID
	agg, err := applyFold(userID, m.aggregates[userID], fold, m.now)
	if err != nil {
		return Aggregate{}, err
	}
	m.sessions = append(m.sessions, *s)
	m.aggregates[userID] = agg
	return agg, nil
}

func (m *Memory) GetUserAggregate(_ context.Context, userID string) (Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.aggregates[userID]
	if !ok {
		return Aggregate{}, ErrNotFound
	}
	return agg, nil
}

func (m *Memory) QueryLeaderboard(_ context.Context, since time.Time, recent int) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byUser := make(map[string]*Candidate)
	for _, s := range m.sessions {
		if s.UserID == nil || s.CreatedAt.Before(since) {
			continue
		}
		uid := *s.UserID
		c, ok := byUser[uid]
		if !ok {
			u, found := m.users[uid]
			if !found {
				continue
			}
			c = &Candidate{User: u, Aggregate: m.aggregates[uid]}
			c.Aggregate.UserID = uid
			byUser[uid] = c
		}
		c.WindowTests++
		c.WindowBest = math.Max(c.WindowBest, s.WPM)
		s.TextContent = ""
		c.Recent = append(c.Recent, s)
	}

	out := make([]Candidate, 0, len(byUser))
	for _, c := range byUser {
		sort.SliceStable(c.Recent, func(i, j int) bool {
			return c.Recent[i].CreatedAt.After(c.Recent[j].CreatedAt)
		})
		if len(c.Recent) > recent {
			c.Recent = c.Recent[:max(recent, 0)]
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return memberBefore(out[i].User, out[j].User)
	})
	return out, nil
}

func memberBefore(a, b User) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (m *Memory) Close() error { return nil }
