package stats

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
	"github.com/rs/zerolog"
)

func TestApply(t *testing.T) {
	agg := store.Aggregate{UserID: "u"}
	agg = Apply(agg, store.TestSession{WPM: 60, Accuracy: 90, WordsTyped: 20, TimeSpent: 30})
	agg = Apply(agg, store.TestSession{WPM: 40, Accuracy: 100, WordsTyped: 10, TimeSpent: 15})
	agg = Apply(agg, store.TestSession{WPM: 50, Accuracy: 95, WordsTyped: 5, TimeSpent: 10})

	if agg.TotalTests != 3 || agg.TotalWords != 35 || agg.TotalTime != 55 {
		t.Fatalf("unexpected totals %+v", agg)
	}
	if agg.BestWPM != 60 || agg.BestAccuracy != 100 {
		t.Fatalf("unexpected bests %+v", agg)
	}
	if agg.AverageWPM != 50 || agg.AverageAccuracy != 95 {
		t.Fatalf("unexpected averages %+v", agg)
	}
}

func strPtr(s string) *string { return &s }

func TestRecorderCreatesSessionAndAggregate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := NewRecorder(mem, zerolog.Nop())

	saved, err := r.Record(ctx, store.TestSession{UserID: strPtr("u1"), WPM: 72, Accuracy: 96})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if saved.ID == "" || saved.CreatedAt.IsZero() {
		t.Fatalf("session not stamped: %+v", saved)
	}
	agg, err := mem.GetUserAggregate(ctx, "u1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalTests != 1 || agg.BestWPM != 72 || agg.AverageAccuracy != 96 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

func TestRecorderAnonymousSkipsAggregate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := NewRecorder(mem, zerolog.Nop())
	if _, err := r.Record(ctx, store.TestSession{WPM: 30, Accuracy: 80}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := mem.GetUserAggregate(ctx, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("anonymous session must not create an aggregate")
	}
}

func TestRecorderConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := NewRecorder(mem, zerolog.Nop())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Record(ctx, store.TestSession{UserID: strPtr("u1"), WPM: float64(i), Accuracy: 90}); err != nil {
				t.Errorf("record: %v", err)
			}
		}(i)
	}
	wg.Wait()

	agg, err := mem.GetUserAggregate(ctx, "u1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalTests != n {
		t.Fatalf("lost updates: totalTests = %d", agg.TotalTests)
	}
	if agg.BestWPM != n-1 {
		t.Fatalf("bestWpm = %v", agg.BestWPM)
	}
	if math.Abs(agg.AverageWPM-float64(n-1)/2) > 1e-9 {
		t.Fatalf("averageWpm = %v", agg.AverageWPM)
	}
}

type failingStore struct {
	store.Store
	failInsert bool
	failFold   bool
}

func (f *failingStore) RecordSession(ctx context.Context, s *store.TestSession, fold store.FoldFunc) (store.Aggregate, error) {
	if f.failInsert {
		return store.Aggregate{}, errors.New("disk full")
	}
	if f.failFold {
		return f.Store.RecordSession(ctx, s, func(store.Aggregate) (store.Aggregate, error) {
			return store.Aggregate{}, errors.New("deadlock")
		})
	}
	return f.Store.RecordSession(ctx, s, fold)
}

func TestRecorderReportsFailures(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(&failingStore{Store: store.NewMemory(), failInsert: true}, zerolog.Nop())
	if _, err := r.Record(ctx, store.TestSession{UserID: strPtr("u1"), WPM: 10}); err == nil {
		t.Fatalf("expected insert failure")
	}

	r = NewRecorder(&failingStore{Store: store.NewMemory(), failFold: true}, zerolog.Nop())
	if _, err := r.Record(ctx, store.TestSession{UserID: strPtr("u1"), WPM: 10}); err == nil {
		t.Fatalf("expected aggregate failure")
	}
}

func TestRecorderFailedAggregateLeavesNoSession(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	if err := mem.UpsertUser(ctx, store.User{ID: "u1", Username: "ada"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	fs := &failingStore{Store: mem, failFold: true}
	r := NewRecorder(fs, zerolog.Nop())

	if _, err := r.Record(ctx, store.TestSession{UserID: strPtr("u1"), WPM: 64, Accuracy: 97}); err == nil {
		t.Fatalf("expected aggregate failure")
	}
	candidates, err := mem.QueryLeaderboard(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("failed record persisted a session: %+v", candidates)
	}

	fs.failFold = false
	if _, err := r.Record(ctx, store.TestSession{UserID: strPtr("u1"), WPM: 64, Accuracy: 97}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	candidates, err = mem.QueryLeaderboard(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	agg, err := mem.GetUserAggregate(ctx, "u1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(candidates) != 1 || candidates[0].WindowTests != 1 || agg.TotalTests != 1 {
		t.Fatalf("session log and aggregate diverged: sessions=%+v aggregate=%+v", candidates, agg)
	}
}
