// Package notify sequences the result views shown after a completed session.
package notify

import (
	"sync"

	"github.com/terra-clan/focus-engine/internal/models"
)

// Kind identifies a result view
type Kind string

const (
	KindSummary Kind = "summary"
	KindStreak  Kind = "streak"
	KindLevel   Kind = "level"
)

// Notification is the view at the head of the queue
type Notification struct {
	Kind Kind
	Data models.PostSessionData
}

// BuildQueue returns the views for data in display order
func BuildQueue(data models.PostSessionData) []Kind {
	queue := []Kind{KindSummary}
	if data.NewStreak > data.OldStreak {
		queue = append(queue, KindStreak)
	}
	if data.NewLevel > data.OldLevel {
		queue = append(queue, KindLevel)
	}
	return queue
}

// Sequencer presents result views one at a time. The queue and its data are
// always set and cleared together.
type Sequencer struct {
	mu    sync.Mutex
	queue []Kind
	data  *models.PostSessionData

	onStartNew     func()
	onViewProgress func(models.PostSessionData)
	onChange       func(Notification, bool)
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithStartNewSession is called after the queue is abandoned for a new session
func WithStartNewSession(fn func()) Option {
	return func(s *Sequencer) { s.onStartNew = fn }
}

// WithViewProgress is called with the session data after the queue is
// abandoned for the progress view
func WithViewProgress(fn func(models.PostSessionData)) Option {
	return func(s *Sequencer) { s.onViewProgress = fn }
}

// WithOnChange is called whenever the head of the queue changes. ok is false
// once the queue is empty.
func WithOnChange(fn func(n Notification, ok bool)) Option {
	return func(s *Sequencer) { s.onChange = fn }
}

// NewSequencer creates an empty sequencer
func NewSequencer(opts ...Option) *Sequencer {
	s := &Sequencer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Present replaces any pending views with the queue for data
func (s *Sequencer) Present(data models.PostSessionData) {
	s.mu.Lock()
	d := data
	s.data = &d
	s.queue = BuildQueue(data)
	n, ok := s.headLocked()
	s.mu.Unlock()

	s.changed(n, ok)
}

// Current returns the view at the head of the queue
func (s *Sequencer) Current() (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headLocked()
}

// Pending returns the remaining views, head first
func (s *Sequencer) Pending() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Kind(nil), s.queue...)
}

// Dismiss removes the head and returns the next view, if any
func (s *Sequencer) Dismiss() (Notification, bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return Notification{}, false
	}
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.data = nil
	}
	n, ok := s.headLocked()
	s.mu.Unlock()

	s.changed(n, ok)
	return n, ok
}

// StartNewSession abandons every pending view
func (s *Sequencer) StartNewSession() {
	s.clear()
	if s.onStartNew != nil {
		s.onStartNew()
	}
}

// ViewProgress abandons every pending view and opens the progress view
func (s *Sequencer) ViewProgress() {
	data, had := s.clear()
	if had && s.onViewProgress != nil {
		s.onViewProgress(data)
	}
}

func (s *Sequencer) clear() (models.PostSessionData, bool) {
	s.mu.Lock()
	var data models.PostSessionData
	had := s.data != nil
	if had {
		data = *s.data
	}
	s.queue = nil
	s.data = nil
	s.mu.Unlock()

	if had {
		s.changed(Notification{}, false)
	}
	return data, had
}

func (s *Sequencer) headLocked() (Notification, bool) {
	if len(s.queue) == 0 || s.data == nil {
		return Notification{}, false
	}
	return Notification{Kind: s.queue[0], Data: *s.data}, true
}

func (s *Sequencer) changed(n Notification, ok bool) {
	if s.onChange != nil {
		s.onChange(n, ok)
	}
}
