package storage

import (
	"context"
	"errors"
	"time"

	"github.com/terra-clan/focus-engine/internal/models"
)

// ErrProfileNotFound is returned when a mutation targets a user with no profile row
var ErrProfileNotFound = errors.New("profile not found")

// Mutation is what a MutateFunc asks the repository to write
type Mutation struct {
	Update models.ProfileUpdate
	// Award is appended to the ledger in the same transaction when set
	Award *models.AwardRecord
}

// MutateFunc computes a mutation from the locked current row.
// Returning an error aborts the transaction with nothing written.
type MutateFunc func(current *models.Profile) (*Mutation, error)

// Repository defines the interface for profile persistence
type Repository interface {
	// Profiles
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	EnsureProfile(ctx context.Context, userID string) (*models.Profile, error)
	// MutateProfile runs fn against the row for userID while holding it locked
	// and commits the returned mutation atomically.
	MutateProfile(ctx context.Context, userID string, fn MutateFunc) (*models.Profile, error)

	// Award ledger
	ListAwards(ctx context.Context, userID string, limit int) ([]*models.AwardRecord, error)
	PruneAwards(ctx context.Context, olderThan time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}
