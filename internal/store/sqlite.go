package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Fixed-width UTC layout so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the embedded Store used for single-instance deployments.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and applies migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS test_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			wpm REAL NOT NULL,
			accuracy REAL NOT NULL,
			errors INTEGER NOT NULL,
			consistency REAL NOT NULL,
			words_typed INTEGER NOT NULL,
			time_spent INTEGER NOT NULL,
			test_type TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			duration INTEGER NOT NULL,
			text_content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS user_stats (
			user_id TEXT PRIMARY KEY,
			best_wpm REAL NOT NULL,
			average_wpm REAL NOT NULL,
			average_accuracy REAL NOT NULL,
			best_accuracy REAL NOT NULL,
			total_tests INTEGER NOT NULL,
			total_words INTEGER NOT NULL,
			total_time INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_test_sessions_user_created ON test_sessions(user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_test_sessions_created ON test_sessions(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func (s *SQLite) GetUser(ctx context.Context, id string) (User, error) {
	var (
		u       User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *SQLite) UpsertUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username`,
		u.ID, u.Username, formatTime(u.CreatedAt))
	return err
}

// RecordSession runs the session insert and aggregate upsert in one
// transaction. The pool holds a single connection, so transactions for the
// same user never interleave.
func (s *SQLite) RecordSession(ctx context.Context, ts *TestSession, fold FoldFunc) (agg Aggregate, err error) {
	stampSession(ts, s.now)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Aggregate{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var userID sql.NullString
	if ts.UserID != nil {
		userID = sql.NullString{String: *ts.UserID, Valid: true}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO test_sessions (id, user_id, wpm, accuracy, errors, consistency, words_typed, time_spent, test_type, difficulty, duration, text_content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ID, userID, ts.WPM, ts.Accuracy, ts.Errors, ts.Consistency, ts.WordsTyped, ts.TimeSpent,
		ts.TestType, ts.Difficulty, ts.Duration, ts.TextContent, formatTime(ts.CreatedAt),
	); err != nil {
		return Aggregate{}, fmt.Errorf("insert session: %w", err)
	}

	if ts.UserID != nil {
		current, lerr := getAggregate(ctx, tx, *ts.UserID)
		if lerr != nil && !errors.Is(lerr, ErrNotFound) {
			err = fmt.Errorf("load aggregate: %w", lerr)
			return Aggregate{}, err
		}
		if agg, err = applyFold(*ts.UserID, current, fold, s.now); err != nil {
			return Aggregate{}, err
		}
		if err = putAggregate(ctx, tx, agg); err != nil {
			return Aggregate{}, fmt.Errorf("upsert aggregate: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Aggregate{}, err
	}
	return agg, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) GetUserAggregate(ctx context.Context, userID string) (Aggregate, error) {
	return getAggregate(ctx, s.db, userID)
}

func getAggregate(ctx context.Context, q queryer, userID string) (Aggregate, error) {
	var (
		agg     Aggregate
		updated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT user_id, best_wpm, average_wpm, average_accuracy, best_accuracy, total_tests, total_words, total_time, updated_at
		 FROM user_stats WHERE user_id = ?`, userID,
	).Scan(&agg.UserID, &agg.BestWPM, &agg.AverageWPM, &agg.AverageAccuracy, &agg.BestAccuracy,
		&agg.TotalTests, &agg.TotalWords, &agg.TotalTime, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Aggregate{}, ErrNotFound
	}
	if err != nil {
		return Aggregate{}, err
	}
	if agg.UpdatedAt, err = parseTime(updated); err != nil {
		return Aggregate{}, err
	}
	return agg, nil
}

func putAggregate(ctx context.Context, q queryer, agg Aggregate) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, best_wpm, average_wpm, average_accuracy, best_accuracy, total_tests, total_words, total_time, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			best_wpm = excluded.best_wpm,
			average_wpm = excluded.average_wpm,
			average_accuracy = excluded.average_accuracy,
			best_accuracy = excluded.best_accuracy,
			total_tests = excluded.total_tests,
			total_words = excluded.total_words,
			total_time = excluded.total_time,
			updated_at = excluded.updated_at`,
		agg.UserID, agg.BestWPM, agg.AverageWPM, agg.AverageAccuracy, agg.BestAccuracy,
		agg.TotalTests, agg.TotalWords, agg.TotalTime, formatTime(agg.UpdatedAt),
	)
	return err
}

func (s *SQLite) QueryLeaderboard(ctx context.Context, since time.Time, recent int) ([]Candidate, error) {
	var sinceArg string
	if !since.IsZero() {
		sinceArg = formatTime(since)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.created_at, MAX(s.wpm), COUNT(s.id),
			COALESCE(a.best_wpm, 0), COALESCE(a.average_wpm, 0), COALESCE(a.average_accuracy, 0),
			COALESCE(a.best_accuracy, 0), COALESCE(a.total_tests, 0), COALESCE(a.total_words, 0),
			COALESCE(a.total_time, 0)
		 FROM test_sessions s
		 JOIN users u ON u.id = s.user_id
		 LEFT JOIN user_stats a ON a.user_id = u.id
		 WHERE s.created_at >= ?
		 GROUP BY u.id
		 ORDER BY u.created_at ASC, u.id ASC`, sinceArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	index := make(map[string]int)
	for rows.Next() {
		var (
			c           Candidate
			userCreated string
		)
		if err := rows.Scan(&c.User.ID, &c.User.Username, &userCreated, &c.WindowBest, &c.WindowTests,
			&c.Aggregate.BestWPM, &c.Aggregate.AverageWPM, &c.Aggregate.AverageAccuracy, &c.Aggregate.BestAccuracy,
			&c.Aggregate.TotalTests, &c.Aggregate.TotalWords, &c.Aggregate.TotalTime); err != nil {
			return nil, err
		}
		if c.User.CreatedAt, err = parseTime(userCreated); err != nil {
			return nil, err
		}
		c.Aggregate.UserID = c.User.ID
		index[c.User.ID] = len(out)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 || recent <= 0 {
		return out, nil
	}

	recentRows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, wpm, accuracy, errors, consistency, words_typed, time_spent,
			test_type, difficulty, duration, created_at
		 FROM (
			SELECT id, user_id, wpm, accuracy, errors, consistency, words_typed, time_spent,
				test_type, difficulty, duration, created_at,
				ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY created_at DESC, id DESC) AS rn
			FROM test_sessions
			WHERE user_id IS NOT NULL AND created_at >= ?
		 )
		 WHERE rn <= ?
		 ORDER BY user_id, created_at DESC, id DESC`, sinceArg, recent)
	if err != nil {
		return nil, err
	}
	defer recentRows.Close()

	for recentRows.Next() {
		var (
			ts      TestSession
			userID  string
			created string
		)
		if err := recentRows.Scan(&ts.ID, &userID, &ts.WPM, &ts.Accuracy, &ts.Errors, &ts.Consistency,
			&ts.WordsTyped, &ts.TimeSpent, &ts.TestType, &ts.Difficulty, &ts.Duration, &created); err != nil {
			return nil, err
		}
		if ts.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		i, ok := index[userID]
		if !ok {
			continue
		}
		uid := userID
		ts.UserID = &uid
		out[i].Recent = append(out[i].Recent, ts)
	}
	return out, recentRows.Err()
}
