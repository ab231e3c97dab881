// Package leaderboard ranks users by best WPM over a time window.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	DefaultLimit  = 50
	MaxLimit      = 100
	DefaultRecent = 10
)

type Window string

const (
	WindowAll   Window = "all"
	WindowToday Window = "today"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

var ErrUnknownWindow = errors.New("unknown leaderboard window")

// ParseWindow maps a filter string to a Window; empty means all.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "", WindowAll:
		return WindowAll, nil
	case WindowToday, WindowWeek, WindowMonth:
		return Window(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownWindow, s)
	}
}

// Since returns the inclusive lower bound for w relative to now. The zero
// time means no bound.
func (w Window) Since(now time.Time) time.Time {
	switch w {
	case WindowToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case WindowWeek:
		return now.AddDate(0, 0, -7)
	case WindowMonth:
		return now.AddDate(0, 0, -30)
	default:
		return time.Time{}
	}
}

// Row is one ranked leaderboard line.
type Row struct {
	ID          string
	Username    string
	BestWPM     float64
	AvgAccuracy float64
	TotalTests  int
	CreatedAt   time.Time
	Rank        int
}

// Cache stores built snapshots between result submissions.
type Cache interface {
	Get(ctx context.Context, key string) ([]Row, bool)
	Set(ctx context.Context, key string, rows []Row) error
	Invalidate(ctx context.Context) error
}

type Aggregator struct {
	store   store.Store
	cache   Cache
	recent  int
	now     func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type Option func(*Aggregator)

func WithCache(c Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

func WithRecent(k int) Option {
	return func(a *Aggregator) {
		if k > 0 {
			a.recent = k
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

func NewAggregator(s store.Store, logger zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  s,
		recent: DefaultRecent,
		now:    time.Now,
		logger: logger.With().Str("component", "leaderboard").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ClampLimit applies the default and upper bound to a requested row count.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Snapshot returns up to limit rows for w, ranked 1..n by best WPM.
func (a *Aggregator) Snapshot(ctx context.Context, w Window, limit int) ([]Row, error) {
	limit = ClampLimit(limit)
	key := fmt.Sprintf("%s:%d", w, limit)
	if a.cache != nil {
		if rows, ok := a.cache.Get(ctx, key); ok {
			a.metrics.IncLeaderboardBuild("cache")
			return rows, nil
		}
	}

	candidates, err := a.store.QueryLeaderboard(ctx, w.Since(a.now()), a.recent)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	rows := Rank(candidates, w, a.recent, limit)
	a.metrics.IncLeaderboardBuild("store")

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, rows); err != nil {
			a.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache leaderboard")
		}
	}
	return rows, nil
}

// Invalidate drops cached snapshots after a new result lands.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to invalidate leaderboard cache")
	}
}

// Rank turns store candidates into ordered rows. The store returns
// candidates by member since, then id, and that order is kept for equal best
// WPM values; ranks are consecutive from 1.
func Rank(candidates []store.Candidate, w Window, recent, limit int) []Row {
	rows := lo.FilterMap(candidates, func(c store.Candidate, _ int) (Row, bool) {
		row := buildRow(c, w, recent)
		return row, row.BestWPM > 0 && row.TotalTests > 0
	})

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].BestWPM > rows[j].BestWPM
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

func buildRow(c store.Candidate, w Window, recent int) Row {
	row := Row{
		ID:        c.User.ID,
		Username:  c.User.Username,
		CreatedAt: c.User.CreatedAt,
	}
	if w == WindowAll && c.Aggregate.TotalTests > 0 {
		row.BestWPM = c.Aggregate.BestWPM
		row.TotalTests = c.Aggregate.TotalTests
	} else {
		row.BestWPM = c.WindowBest
		row.TotalTests = c.WindowTests
	}

	latest := c.Recent
	if len(latest) > recent {
		latest = latest[:recent]
	}
	if len(latest) > 0 {
		mean := lo.Mean(lo.Map(latest, func(s store.TestSession, _ int) float64 { return s.Accuracy }))
		row.AvgAccuracy = math.Round(mean*100) / 100
	}
	return row
}

// Entries converts rows to their wire shape.
func Entries(rows []Row) ([]protocol.LeaderboardEntry, error) {
	out := make([]protocol.LeaderboardEntry, 0, len(rows))
	if err := copier.Copy(&out, &rows); err != nil {
		return nil, fmt.Errorf("copy leaderboard rows: %w", err)
	}
	return out, nil
}
