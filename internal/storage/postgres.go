package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/focus-engine/internal/models"
)

const profileColumns = `id, xp, level, streak, longest_streak, last_session_timestamp, onboarding_completed, updated_at`

const awardColumns = `id, user_id, duration_minutes, mode, xp_earned, level_before, level_after, streak_before, streak_after, created_at`

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the connection pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetProfile retrieves a profile by user ID
func (r *PostgresRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return p, nil
}

// EnsureProfile creates an empty profile for userID if none exists
func (r *PostgresRepository) EnsureProfile(ctx context.Context, userID string) (*models.Profile, error) {
	query := `INSERT INTO profiles (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}

	return r.GetProfile(ctx, userID)
}

// MutateProfile locks the profile row with SELECT ... FOR UPDATE, applies fn
// and commits the update and ledger entry together. Concurrent calls for the
// same user wait on the row lock, so each sees the previous one's write.
func (r *PostgresRepository) MutateProfile(ctx context.Context, userID string, fn MutateFunc) (*models.Profile, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1 FOR UPDATE`

	current, err := scanProfile(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to lock profile: %w", err)
	}

	m, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	var row pgx.Row
	if s := m.Update.Streak; s != nil {
		row = tx.QueryRow(ctx, `
			UPDATE profiles
			SET xp = $2, level = $3, streak = $4, longest_streak = $5, last_session_timestamp = $6, updated_at = NOW()
			WHERE id = $1
			RETURNING `+profileColumns,
			userID, m.Update.XP, m.Update.Level, s.Streak, s.LongestStreak, s.LastSessionTimestamp,
		)
	} else {
		row = tx.QueryRow(ctx, `
			UPDATE profiles
			SET xp = $2, level = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING `+profileColumns,
			userID, m.Update.XP, m.Update.Level,
		)
	}

	updated, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	if a := m.Award; a != nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO xp_awards (`+awardColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			a.ID,
			a.UserID,
			a.DurationMinutes,
			a.Mode,
			a.XPEarned,
			a.LevelBefore,
			a.LevelAfter,
			a.StreakBefore,
			a.StreakAfter,
			a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to record award: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit profile update: %w", err)
	}

	return updated, nil
}

// ListAwards returns the most recent awards for a user, newest first
func (r *PostgresRepository) ListAwards(ctx context.Context, userID string, limit int) ([]*models.AwardRecord, error) {
	query := `
		SELECT id::text, user_id, duration_minutes, mode, xp_earned, level_before, level_after, streak_before, streak_after, created_at
		FROM xp_awards
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	args := []interface{}{userID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list awards: %w", err)
	}
	defer rows.Close()

	var awards []*models.AwardRecord
	for rows.Next() {
		var a models.AwardRecord
		err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.DurationMinutes,
			&a.Mode,
			&a.XPEarned,
			&a.LevelBefore,
			&a.LevelAfter,
			&a.StreakBefore,
			&a.StreakAfter,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan award: %w", err)
		}
		awards = append(awards, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating awards: %w", err)
	}

	return awards, nil
}

// PruneAwards deletes ledger rows created before olderThan
func (r *PostgresRepository) PruneAwards(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM xp_awards WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune awards: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var lastSession sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.XP,
		&p.Level,
		&p.Streak,
		&p.LongestStreak,
		&lastSession,
		&p.OnboardingCompleted,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSession.Valid {
		ts := lastSession.Time.UTC()
		p.LastSessionTimestamp = &ts
	}

	return &p, nil
}
