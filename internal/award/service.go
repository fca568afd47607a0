package award

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/focus-engine/internal/cache"
	"github.com/terra-clan/focus-engine/internal/metrics"
	"github.com/terra-clan/focus-engine/internal/models"
	"github.com/terra-clan/focus-engine/internal/storage"
	"github.com/terra-clan/focus-engine/internal/stream"
)

// Result is a committed award
type Result struct {
	Outcome Outcome
	Profile *models.Profile
	Record  *models.AwardRecord
}

// Service is the request-scoped entry point for awarding sessions.
// It holds no per-user state; all coordination happens in the repository.
type Service struct {
	repo      storage.Repository
	engine    *Engine
	cache     cache.ProfileCache
	publisher stream.Publisher
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithCache sets the profile read cache
func WithCache(c cache.ProfileCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithPublisher sets where committed profiles are announced
func WithPublisher(p stream.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an award service
func NewService(repo storage.Repository, engine *Engine, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		engine: engine,
		cache:  cache.Nop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the service's award engine
func (s *Service) Engine() *Engine {
	return s.engine
}

// Award converts a completed session into XP for userID. userID must come
// from a verified credential, never from the request body.
func (s *Service) Award(ctx context.Context, userID string, in Input) (*Result, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if err := ValidateMinutes(in.DurationMinutes); err != nil {
		return nil, err
	}
	if in.Mode != ModeHard {
		in.Mode = ModeEasy
	}

	start := time.Now()
	var outcome Outcome
	var record *models.AwardRecord

	profile, err := s.repo.MutateProfile(ctx, userID, func(current *models.Profile) (*storage.Mutation, error) {
		now := s.now()
		o, err := s.engine.Apply(*current, in, now)
		if err != nil {
			return nil, err
		}

		rec := &models.AwardRecord{
			ID:              uuid.NewString(),
			UserID:          userID,
			DurationMinutes: in.DurationMinutes,
			Mode:            string(in.Mode),
			XPEarned:        o.XPEarned,
			LevelBefore:     o.OldLevel,
			LevelAfter:      o.NewLevel,
			StreakBefore:    current.Streak,
			StreakAfter:     o.Profile.Streak,
			CreatedAt:       now.UTC(),
		}

		outcome, record = o, rec
		return &storage.Mutation{Update: o.Update, Award: rec}, nil
	})
	metrics.AwardLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AwardsTotal.WithLabelValues(string(in.Mode), "error").Inc()
		switch {
		case errors.Is(err, ErrInvalidInput):
			return nil, err
		case errors.Is(err, storage.ErrProfileNotFound):
			slog.Error("award for user without profile", "user_id", userID)
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
		default:
			slog.Error("failed to persist award", "error", err, "user_id", userID)
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	metrics.AwardsTotal.WithLabelValues(string(in.Mode), "ok").Inc()
	metrics.XPAwardedTotal.WithLabelValues(string(in.Mode)).Add(float64(outcome.XPEarned))
	if outcome.LevelChanged {
		metrics.LevelUpsTotal.Inc()
	}
	if outcome.StreakApplied {
		metrics.StreakTransitionsTotal.WithLabelValues(string(outcome.StreakTransition)).Inc()
	}

	// Write through so a reader that loaded the row before commit cannot
	// cache it afterwards; the cache drops older entries.
	if err := s.cache.Set(ctx, profile); err != nil {
		slog.Warn("failed to cache awarded profile", "error", err, "user_id", userID)
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			slog.Warn("failed to invalidate cached profile", "error", err, "user_id", userID)
		}
	}
	if s.publisher != nil {
		s.publisher.PublishProfile(ctx, profile)
	}

	slog.Info("xp awarded",
		"user_id", userID,
		"mode", in.Mode,
		"duration_minutes", in.DurationMinutes,
		"xp_earned", outcome.XPEarned,
		"xp", profile.XP,
		"level", profile.Level,
		"level_changed", outcome.LevelChanged,
		"streak", profile.Streak,
		"streak_transition", outcome.StreakTransition,
	)

	return &Result{Outcome: outcome, Profile: profile, Record: record}, nil
}

// Profile returns the current profile for userID, reading through the cache
func (s *Service) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	if p, err := s.cache.Get(ctx, userID); err != nil {
		slog.Warn("profile cache read failed", "error", err, "user_id", userID)
	} else if p != nil {
		return p, nil
	}

	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}

	if err := s.cache.Set(ctx, p); err != nil {
		slog.Warn("failed to cache profile", "error", err, "user_id", userID)
	}
	return p, nil
}

// Awards returns the user's most recent awards
func (s *Service) Awards(ctx context.Context, userID string, limit int) ([]*models.AwardRecord, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	awards, err := s.repo.ListAwards(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return awards, nil
}
