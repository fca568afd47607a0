// Package cache holds read-through caches in front of profile storage.
package cache

import (
	"context"

	"github.com/terra-clan/focus-engine/internal/models"
)

// ProfileCache caches profile reads. A miss returns nil, nil.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	// Set stores p unless the cached entry supersedes it
	Set(ctx context.Context, p *models.Profile) error
	Invalidate(ctx context.Context, userID string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Nop is a ProfileCache that never stores anything
type Nop struct{}

func (Nop) Get(ctx context.Context, userID string) (*models.Profile, error) { return nil, nil }
func (Nop) Set(ctx context.Context, p *models.Profile) error                { return nil }
func (Nop) Invalidate(ctx context.Context, userID string) error             { return nil }
func (Nop) HealthCheck(ctx context.Context) error                           { return nil }
func (Nop) Close() error                                                    { return nil }

// Supersedes reports whether next may replace cached. XP never decreases, so
// a lower XP is an older row; at equal XP the later update wins.
func Supersedes(next, cached *models.Profile) bool {
	if cached == nil {
		return true
	}
	if next.XP != cached.XP {
		return next.XP > cached.XP
	}
	return !next.UpdatedAt.Before(cached.UpdatedAt)
}
