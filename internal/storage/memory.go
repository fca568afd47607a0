package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/focus-engine/internal/models"
)

// MemoryRepository is an in-process Repository used by tests and offline demos.
// Each profile has its own lock so mutations for different users never contend.
type MemoryRepository struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	locks    map[string]*sync.Mutex
	awards   []*models.AwardRecord

	// failNext is returned by the next mutation in place of a write
	failNext error
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles: make(map[string]*models.Profile),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Put stores p, replacing any existing profile with the same ID
func (r *MemoryRepository) Put(p *models.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p.Clone()
	if _, ok := r.locks[p.ID]; !ok {
		r.locks[p.ID] = &sync.Mutex{}
	}
}

// FailNextWrite makes the next MutateProfile call return err without writing
func (r *MemoryRepository) FailNextWrite(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}

// GetProfile returns a copy of the stored profile, or nil when absent
func (r *MemoryRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profiles[userID].Clone(), nil
}

// EnsureProfile creates an empty profile for userID if none exists
func (r *MemoryRepository) EnsureProfile(ctx context.Context, userID string) (*models.Profile, error) {
	r.mu.Lock()
	if _, ok := r.profiles[userID]; !ok {
		r.profiles[userID] = &models.Profile{ID: userID, Level: 1, UpdatedAt: time.Now().UTC()}
		r.locks[userID] = &sync.Mutex{}
	}
	r.mu.Unlock()

	return r.GetProfile(ctx, userID)
}

// MutateProfile holds the user's lock for the whole read-compute-write
func (r *MemoryRepository) MutateProfile(ctx context.Context, userID string, fn MutateFunc) (*models.Profile, error) {
	r.mu.Lock()
	lock, ok := r.locks[userID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrProfileNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	current := r.profiles[userID].Clone()
	r.mu.Unlock()

	m, err := fn(current)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return nil, err
	}

	updated := m.Update.Apply(*current)
	updated.UpdatedAt = time.Now().UTC()
	r.profiles[userID] = &updated

	if m.Award != nil {
		a := *m.Award
		r.awards = append(r.awards, &a)
	}

	return updated.Clone(), nil
}

// ListAwards returns the most recent awards for a user, newest first
func (r *MemoryRepository) ListAwards(ctx context.Context, userID string, limit int) ([]*models.AwardRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AwardRecord
	for _, a := range r.awards {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneAwards deletes ledger rows created before olderThan
func (r *MemoryRepository) PruneAwards(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.awards[:0]
	var removed int64
	for _, a := range r.awards {
		if a.CreatedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	r.awards = kept

	return removed, nil
}
