package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type userModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	Username  string    `gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (userModel) TableName() string { return "users" }

type testSessionModel struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	UserID      *string   `gorm:"type:varchar(64);index:idx_test_sessions_user_created,priority:1"`
	WPM         float64   `gorm:"column:wpm;not null"`
	Accuracy    float64   `gorm:"not null"`
	Errors      int       `gorm:"not null"`
	Consistency float64   `gorm:"not null"`
	WordsTyped  int       `gorm:"not null"`
	TimeSpent   int       `gorm:"not null"`
	TestType    string    `gorm:"type:varchar(32);not null"`
	Difficulty  string    `gorm:"type:varchar(32);not null"`
	Duration    int       `gorm:"not null"`
	TextContent string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null;index;index:idx_test_sessions_user_created,priority:2"`
}

func (testSessionModel) TableName() string { return "test_sessions" }

type userStatsModel struct {
	UserID          string  `gorm:"primaryKey;type:varchar(64)"`
	BestWPM         float64 `gorm:"column:best_wpm;not null"`
	AverageWPM      float64 `gorm:"column:average_wpm;not null"`
	AverageAccuracy float64 `gorm:"not null"`
	BestAccuracy    float64 `gorm:"not null"`
	TotalTests      int     `gorm:"not null"`
	TotalWords      int     `gorm:"not null"`
	TotalTime       int     `gorm:"not null"`
	UpdatedAt       time.Time
}

func (userStatsModel) TableName() string { return "user_stats" }

// Postgres is the Store used when several socket instances share state.
type Postgres struct {
	db *gorm.DB
}

// PostgresDSN builds a libpq style connection string.
func PostgresDSN(host, port, user, password, name string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		host, port, user, password, name)
}

func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.AutoMigrate(&userModel{}, &testSessionModel{}, &userStatsModel{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) GetUser(ctx context.Context, id string) (User, error) {
	var m userModel
	if err := p.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return User{ID: m.ID, Username: m.Username, CreatedAt: m.CreatedAt}, nil
}

func (p *Postgres) UpsertUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m := userModel{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username"}),
	}).Create(&m).Error
}

// RecordSession inserts the session and rewrites the aggregate in one
// transaction. The user_stats row is created if missing and then locked
// FOR UPDATE, so instances sharing the database serialise per user.
func (p *Postgres) RecordSession(ctx context.Context, s *TestSession, fold FoldFunc) (Aggregate, error) {
	stampSession(s, time.Now)
	var agg Aggregate
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := sessionToModel(*s)
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if s.UserID == nil {
			return nil
		}

		userID := *s.UserID
		seed := userStatsModel{UserID: userID, UpdatedAt: time.Now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("seed aggregate: %w", err)
		}
		var current userStatsModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "user_id = ?", userID).Error; err != nil {
			return fmt.Errorf("lock aggregate: %w", err)
		}

		next, err := applyFold(userID, statsFromModel(current), fold, time.Now)
		if err != nil {
			return err
		}
		row := statsToModel(next)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("update aggregate: %w", err)
		}
		agg = next
		return nil
	})
	if err != nil {
		return Aggregate{}, err
	}
	return agg, nil
}

func (p *Postgres) GetUserAggregate(ctx context.Context, userID string) (Aggregate, error) {
	var m userStatsModel
	if err := p.db.WithContext(ctx).First(&m, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Aggregate{}, ErrNotFound
		}
		return Aggregate{}, err
	}
	return statsFromModel(m), nil
}

type candidateRow struct {
	UserID          string
	Username        string
	MemberSince     time.Time
	WindowBest      float64
	WindowTests     int
	BestWPM         float64 `gorm:"column:best_wpm"`
	AverageWPM      float64 `gorm:"column:average_wpm"`
	AverageAccuracy float64
	BestAccuracy    float64
	TotalTests      int
	TotalWords      int
	TotalTime       int
}

const recentSessionColumns = "id, user_id, wpm, accuracy, errors, consistency, words_typed, time_spent, test_type, difficulty, duration, created_at"

func (p *Postgres) QueryLeaderboard(ctx context.Context, since time.Time, recent int) ([]Candidate, error) {
	db := p.db.WithContext(ctx)

	var summary []candidateRow
	q := db.Table("test_sessions AS s").
		Select(`u.id AS user_id, u.username, u.created_at AS member_since,
			MAX(s.wpm) AS window_best, COUNT(s.id) AS window_tests,
			COALESCE(a.best_wpm, 0) AS best_wpm, COALESCE(a.average_wpm, 0) AS average_wpm,
			COALESCE(a.average_accuracy, 0) AS average_accuracy, COALESCE(a.best_accuracy, 0) AS best_accuracy,
			COALESCE(a.total_tests, 0) AS total_tests, COALESCE(a.total_words, 0) AS total_words,
			COALESCE(a.total_time, 0) AS total_time`).
		Joins("JOIN users u ON u.id = s.user_id").
		Joins("LEFT JOIN user_stats a ON a.user_id = u.id")
	if !since.IsZero() {
		q = q.Where("s.created_at >= ?", since)
	}
	if err := q.Group("u.id, a.user_id").Order("u.created_at asc, u.id asc").Scan(&summary).Error; err != nil {
		return nil, err
	}
	if len(summary) == 0 {
		return nil, nil
	}

	out := make([]Candidate, 0, len(summary))
	index := make(map[string]int, len(summary))
	for _, r := range summary {
		index[r.UserID] = len(out)
		out = append(out, Candidate{
			User:        User{ID: r.UserID, Username: r.Username, CreatedAt: r.MemberSince},
			WindowBest:  r.WindowBest,
			WindowTests: r.WindowTests,
			Aggregate: Aggregate{
				UserID:          r.UserID,
				BestWPM:         r.BestWPM,
				AverageWPM:      r.AverageWPM,
				AverageAccuracy: r.AverageAccuracy,
				BestAccuracy:    r.BestAccuracy,
				TotalTests:      r.TotalTests,
				TotalWords:      r.TotalWords,
				TotalTime:       r.TotalTime,
			},
		})
	}
	if recent <= 0 {
		return out, nil
	}

	ranked := db.Table("test_sessions").
		Select(recentSessionColumns + ", ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY created_at DESC, id DESC) AS rn").
		Where("user_id IS NOT NULL")
	if !since.IsZero() {
		ranked = ranked.Where("created_at >= ?", since)
	}
	var sessions []testSessionModel
	if err := db.Table("(?) AS ranked", ranked).
		Select(recentSessionColumns).
		Where("rn <= ?", recent).
		Order("user_id, created_at desc, id desc").
		Scan(&sessions).Error; err != nil {
		return nil, err
	}
	for _, m := range sessions {
		if i, ok := index[*m.UserID]; ok {
			out[i].Recent = append(out[i].Recent, sessionFromModel(m))
		}
	}
	return out, nil
}

func sessionToModel(s TestSession) testSessionModel {
	return testSessionModel{
		ID:          s.ID,
		UserID:      s.UserID,
		WPM:         s.WPM,
		Accuracy:    s.Accuracy,
		Errors:      s.Errors,
		Consistency: s.Consistency,
		WordsTyped:  s.WordsTyped,
		TimeSpent:   s.TimeSpent,
		TestType:    s.TestType,
		Difficulty:  s.Difficulty,
		Duration:    s.Duration,
		TextContent: s.TextContent,
		CreatedAt:   s.CreatedAt,
	}
}

func sessionFromModel(m testSessionModel) TestSession {
	return TestSession{
		ID:          m.ID,
		UserID:      m.UserID,
		WPM:         m.WPM,
		Accuracy:    m.Accuracy,
		Errors:      m.Errors,
		Consistency: m.Consistency,
		WordsTyped:  m.WordsTyped,
		TimeSpent:   m.TimeSpent,
		TestType:    m.TestType,
		Difficulty:  m.Difficulty,
		Duration:    m.Duration,
		TextContent: m.TextContent,
		CreatedAt:   m.CreatedAt,
	}
}

func statsToModel(agg Aggregate) userStatsModel {
	return userStatsModel{
		UserID:          agg.UserID,
		BestWPM:         agg.BestWPM,
		AverageWPM:      agg.AverageWPM,
		AverageAccuracy: agg.AverageAccuracy,
		BestAccuracy:    agg.BestAccuracy,
		TotalTests:      agg.TotalTests,
		TotalWords:      agg.TotalWords,
		TotalTime:       agg.TotalTime,
		UpdatedAt:       agg.UpdatedAt,
	}
}

func statsFromModel(m userStatsModel) Aggregate {
	return Aggregate{
		UserID:          m.UserID,
		BestWPM:         m.BestWPM,
		AverageWPM:      m.AverageWPM,
		AverageAccuracy: m.AverageAccuracy,
		BestAccuracy:    m.BestAccuracy,
		TotalTests:      m.TotalTests,
		TotalWords:      m.TotalWords,
		TotalTime:       m.TotalTime,
		UpdatedAt:       m.UpdatedAt,
	}
}
