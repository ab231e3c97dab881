package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
	"github.com/rs/zerolog"
)

// Recorder persists finished sessions and keeps aggregates current. The
// session insert and the aggregate update are one store transaction, which
// also serialises concurrent results for the same user across instances.
type Recorder struct {
	store  store.Store
	now    func() time.Time
	logger zerolog.Logger
}

func NewRecorder(s store.Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  s,
		now:    time.Now,
		logger: logger.With().Str("component", "stats").Logger(),
	}
}

// Record writes session and, for signed-in users, folds it into their
// aggregate. On error nothing is persisted and the caller may resubmit.
func (r *Recorder) Record(ctx context.Context, session store.TestSession) (store.TestSession, error) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.now()
	}
	agg, err := r.store.RecordSession(ctx, &session, func(agg store.Aggregate) (store.Aggregate, error) {
		agg = Apply(agg, session)
		agg.UpdatedAt = r.now()
		return agg, nil
	})
	if err != nil {
		return session, fmt.Errorf("record session: %w", err)
	}
	if session.UserID == nil {
		return session, nil
	}

	r.logger.Debug().
		Str("userId", *session.UserID).
		Str("sessionId", session.ID).
		Int("totalTests", agg.TotalTests).
		Float64("bestWpm", agg.BestWPM).
		Msg("Aggregate updated")
	return session, nil
}
