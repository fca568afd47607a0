package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/terra-clan/focus-engine/internal/models"
)

// SQLiteRepository implements Repository on a local SQLite file.
// A single connection serializes writers; transactions begin IMMEDIATE so the
// read of a profile and its update cannot interleave with another writer.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens or creates the database at path
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id                     TEXT PRIMARY KEY,
			xp                     INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
			level                  INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
			streak                 INTEGER NOT NULL DEFAULT 0 CHECK (streak >= 0),
			longest_streak         INTEGER NOT NULL DEFAULT 0 CHECK (longest_streak >= 0),
			last_session_timestamp INTEGER,
			onboarding_completed   INTEGER NOT NULL DEFAULT 0,
			updated_at             INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS xp_awards (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			duration_minutes REAL NOT NULL,
			mode             TEXT NOT NULL,
			xp_earned        INTEGER NOT NULL,
			level_before     INTEGER NOT NULL,
			level_after      INTEGER NOT NULL,
			streak_before    INTEGER NOT NULL,
			streak_after     INTEGER NOT NULL,
			created_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_awards_user_created ON xp_awards (user_id, created_at DESC)`,
	}

	for _, m := range migrations {
		if _, err := r.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks database connectivity
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// GetProfile retrieves a profile by user ID
func (r *SQLiteRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`

	p, err := scanSQLiteProfile(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// EnsureProfile creates an empty profile for userID if none exists
func (r *SQLiteRepository) EnsureProfile(ctx context.Context, userID string) (*models.Profile, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, updated_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		userID, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return r.GetProfile(ctx, userID)
}

// MutateProfile applies fn inside an IMMEDIATE transaction
func (r *SQLiteRepository) MutateProfile(ctx context.Context, userID string, fn MutateFunc) (*models.Profile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanSQLiteProfile(tx.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	m, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	if s := m.Update.Streak; s != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE profiles
			SET xp = ?, level = ?, streak = ?, longest_streak = ?, last_session_timestamp = ?, updated_at = ?
			WHERE id = ?`,
			m.Update.XP, m.Update.Level, s.Streak, s.LongestStreak, s.LastSessionTimestamp.UnixMilli(), now, userID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE profiles SET xp = ?, level = ?, updated_at = ? WHERE id = ?`,
			m.Update.XP, m.Update.Level, now, userID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	if a := m.Award; a != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO xp_awards (`+awardColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.UserID, a.DurationMinutes, a.Mode, a.XPEarned,
			a.LevelBefore, a.LevelAfter, a.StreakBefore, a.StreakAfter, a.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to record award: %w", err)
		}
	}

	updated, err := scanSQLiteProfile(tx.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to reload profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit profile update: %w", err)
	}

	return updated, nil
}

// ListAwards returns the most recent awards for a user, newest first
func (r *SQLiteRepository) ListAwards(ctx context.Context, userID string, limit int) ([]*models.AwardRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+awardColumns+` FROM xp_awards WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list awards: %w", err)
	}
	defer rows.Close()

	var awards []*models.AwardRecord
	for rows.Next() {
		var a models.AwardRecord
		var createdAt int64
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.DurationMinutes, &a.Mode, &a.XPEarned,
			&a.LevelBefore, &a.LevelAfter, &a.StreakBefore, &a.StreakAfter, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan award: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		awards = append(awards, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating awards: %w", err)
	}
	return awards, nil
}

// PruneAwards deletes ledger rows created before olderThan
func (r *SQLiteRepository) PruneAwards(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM xp_awards WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune awards: %w", err)
	}
	return res.RowsAffected()
}

func scanSQLiteProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var lastSession sql.NullInt64
	var updatedAt int64

	err := row.Scan(
		&p.ID,
		&p.XP,
		&p.Level,
		&p.Streak,
		&p.LongestStreak,
		&lastSession,
		&p.OnboardingCompleted,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSession.Valid {
		ts := time.UnixMilli(lastSession.Int64).UTC()
		p.LastSessionTimestamp = &ts
	}
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &p, nil
}
