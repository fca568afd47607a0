// Package stream fans out profile updates to live subscribers.
package stream

import (
	"context"
	"sync"

	"github.com/terra-clan/focus-engine/internal/metrics"
	"github.com/terra-clan/focus-engine/internal/models"
)

// subscriberBuffer is how many updates a slow subscriber may lag before drops
const subscriberBuffer = 8

// Publisher receives profiles after a committed award
type Publisher interface {
	PublishProfile(ctx context.Context, p *models.Profile)
}

// Hub delivers profile updates to subscribers of the same user
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan *models.Profile]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan *models.Profile]struct{}),
	}
}

// Subscribe registers for updates to userID. The returned func unsubscribes
// and closes the channel.
func (h *Hub) Subscribe(userID string) (<-chan *models.Profile, func()) {
	ch := make(chan *models.Profile, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan *models.Profile]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()
	metrics.StreamSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
			metrics.StreamSubscribers.Dec()
		})
	}
}

// Publish sends p to every subscriber of p.ID without blocking.
// A subscriber whose buffer is full misses the update.
func (h *Hub) Publish(p *models.Profile) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[p.ID] {
		select {
		case ch <- p.Clone():
		default:
		}
	}
}

// PublishProfile implements Publisher for a single-instance deployment
func (h *Hub) PublishProfile(ctx context.Context, p *models.Profile) {
	h.Publish(p)
}

// Subscribers returns the number of subscribers for userID
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
