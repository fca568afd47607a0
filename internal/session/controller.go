// Package session drives a focus session countdown from start to award.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/models"
	"github.com/terra-clan/focus-engine/internal/notify"
)

var (
	ErrInvalidTransition     = errors.New("invalid session transition")
	ErrPauseNotAllowed       = errors.New("hard mode sessions cannot be paused")
	ErrInvalidDuration       = errors.New("session duration must be positive")
	ErrForceCompleteDisabled = errors.New("force complete is disabled")
)

// DefaultAwardTimeout bounds the award call and the profile refetch
const DefaultAwardTimeout = 15 * time.Second

// State is the controller's lifecycle state
type State int

const (
	Idle State = iota
	Active
	ActivePaused
	Completing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case ActivePaused:
		return "paused"
	case Completing:
		return "completing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Awarder is the remote side of a session, satisfied by pkg/client.Client
type Awarder interface {
	AwardXP(ctx context.Context, minutes float64, mode string) (*models.AwardResponse, error)
	GetProfile(ctx context.Context) (*models.Profile, error)
}

// Ticker delivers countdown ticks
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Status is a point-in-time view of the controller
type Status struct {
	State     State
	Mode      award.Mode
	Committed time.Duration
	Remaining time.Duration
	// BackgroundPaused is set when the current pause came from backgrounding
	BackgroundPaused bool
}

// EventKind names a controller event
type EventKind string

const (
	EventState     EventKind = "state"
	EventTick      EventKind = "tick"
	EventCancelled EventKind = "cancelled"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is delivered to the subscriber after every change
type Event struct {
	Kind   EventKind
	Status Status
	Data   *models.PostSessionData
	Err    error
}

// Option configures a Controller
type Option func(*Controller)

// WithTicker replaces the one-second wall clock ticker
func WithTicker(f TickerFactory) Option {
	return func(c *Controller) { c.newTicker = f }
}

// WithEvents subscribes fn to controller events. fn must not block for long.
func WithEvents(fn func(Event)) Option {
	return func(c *Controller) { c.onEvent = fn }
}

// WithForceComplete enables ForceComplete. Only debug builds should set it.
func WithForceComplete(enabled bool) Option {
	return func(c *Controller) { c.forceComplete = enabled }
}

// WithAwardTimeout bounds each network call made during completion
func WithAwardTimeout(d time.Duration) Option {
	return func(c *Controller) { c.awardTimeout = d }
}

// Controller is the session state machine. One countdown runs at a time and
// each completed session makes exactly one award call.
type Controller struct {
	awarder       Awarder
	levels        *levels.Table
	sequencer     *notify.Sequencer
	newTicker     TickerFactory
	onEvent       func(Event)
	forceComplete bool
	awardTimeout  time.Duration

	mu               sync.Mutex
	state            State
	mode             award.Mode
	committed        time.Duration
	remaining        time.Duration
	backgroundPaused bool
	ticker           Ticker
	stopTick         chan struct{}
	completing       bool
	profile          *models.Profile
	closed           bool

	wg sync.WaitGroup
}

// NewController creates an idle controller
func NewController(awarder Awarder, table *levels.Table, sequencer *notify.Sequencer, opts ...Option) *Controller {
	c := &Controller{
		awarder:      awarder,
		levels:       table,
		sequencer:    sequencer,
		newTicker:    newRealTicker,
		awardTimeout: DefaultAwardTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Profile returns the last profile seen by the controller
func (c *Controller) Profile() *models.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.Clone()
}

// Refresh loads the authoritative profile
func (c *Controller) Refresh(ctx context.Context) (*models.Profile, error) {
	p, err := c.awarder.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.profile = p.Clone()
	c.mu.Unlock()
	return p, nil
}

// Start begins a countdown of the given length. The length is fixed for the
// life of the session.
func (c *Controller) Start(d time.Duration, mode award.Mode) error {
	if d <= 0 {
		return ErrInvalidDuration
	}

	c.mu.Lock()
	if c.closed || c.state != Idle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}
	c.mode = award.ParseMode(string(mode))
	c.committed = d
	c.remaining = d
	c.backgroundPaused = false
	c.state = Active
	c.startTickerLocked()
	ev := c.eventLocked(EventState)
	c.mu.Unlock()

	c.emit(ev)
	return nil
}

// Pause stops the countdown. Only easy mode sessions can pause.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if err := c.pauseLocked(false); err != nil {
		c.mu.Unlock()
		return err
	}
	ev := c.eventLocked(EventState)
	c.mu.Unlock()

	c.emit(ev)
	return nil
}

// Resume restarts a paused countdown
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != ActivePaused {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, state)
	}
	c.state = Active
	c.backgroundPaused = false
	c.startTickerLocked()
	ev := c.eventLocked(EventState)
	c.mu.Unlock()

	c.emit(ev)
	return nil
}

// Cancel abandons the session without an award
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.state != Active && c.state != ActivePaused {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, state)
	}
	c.resetLocked()
	ev := c.eventLocked(EventCancelled)
	c.mu.Unlock()

	c.emit(ev)
	return nil
}

// ForceComplete completes the session immediately when enabled
func (c *Controller) ForceComplete() error {
	if !c.forceComplete {
		return ErrForceCompleteDisabled
	}

	c.mu.Lock()
	if c.state != Active && c.state != ActivePaused {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, state)
	}
	c.remaining = 0
	ev, ok := c.beginCompletionLocked()
	c.mu.Unlock()

	if ok {
		c.emit(ev)
	}
	return nil
}

// Background applies the backgrounding policy: hard sessions are cancelled,
// running easy sessions pause.
func (c *Controller) Background() {
	c.mu.Lock()
	var ev Event
	switch {
	case c.state == Active && c.mode == award.ModeHard:
		c.resetLocked()
		ev = c.eventLocked(EventCancelled)
	case c.state == Active:
		_ = c.pauseLocked(true)
		ev = c.eventLocked(EventState)
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.emit(ev)
}

// Foreground resumes a session only if backgrounding paused it
func (c *Controller) Foreground() {
	c.mu.Lock()
	if c.state != ActivePaused || !c.backgroundPaused {
		c.mu.Unlock()
		return
	}
	c.state = Active
	c.backgroundPaused = false
	c.startTickerLocked()
	ev := c.eventLocked(EventState)
	c.mu.Unlock()

	c.emit(ev)
}

// Close stops the countdown and waits for any in-flight completion
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopTickerLocked()
	if c.state == Active || c.state == ActivePaused {
		c.resetLocked()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Controller) pauseLocked(fromBackground bool) error {
	if c.state != Active {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, c.state)
	}
	if c.mode == award.ModeHard {
		return ErrPauseNotAllowed
	}
	c.stopTickerLocked()
	c.state = ActivePaused
	c.backgroundPaused = fromBackground
	return nil
}

func (c *Controller) resetLocked() {
	c.stopTickerLocked()
	c.state = Idle
	c.remaining = 0
	c.backgroundPaused = false
}

func (c *Controller) startTickerLocked() {
	c.stopTickerLocked()
	t := c.newTicker(time.Second)
	stop := make(chan struct{})
	c.ticker = t
	c.stopTick = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-t.C():
				c.tick(stop)
			}
		}
	}()
}

func (c *Controller) stopTickerLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.stopTick)
	c.ticker = nil
	c.stopTick = nil
}

// tick handles one countdown step. stop identifies the ticker run so a tick
// racing a pause or cancel is dropped.
func (c *Controller) tick(stop chan struct{}) {
	c.mu.Lock()
	if c.state != Active || c.stopTick != stop {
		c.mu.Unlock()
		return
	}

	c.remaining -= time.Second
	if c.remaining > 0 {
		ev := c.eventLocked(EventTick)
		c.mu.Unlock()
		c.emit(ev)
		return
	}

	c.remaining = 0
	ev, ok := c.beginCompletionLocked()
	c.mu.Unlock()
	if ok {
		c.emit(ev)
	}
}

// beginCompletionLocked moves to Completing and starts the award. The latch
// makes repeated triggers no-ops.
func (c *Controller) beginCompletionLocked() (Event, bool) {
	if c.completing {
		return Event{}, false
	}
	c.completing = true
	c.stopTickerLocked()
	c.state = Completing

	minutes := c.committed.Minutes()
	mode := c.mode
	before := c.profile.Clone()

	c.wg.Add(1)
	go c.complete(minutes, mode, before)

	return c.eventLocked(EventState), true
}

func (c *Controller) complete(minutes float64, mode award.Mode, before *models.Profile) {
	defer c.wg.Done()

	data, after, err := c.award(minutes, mode, before)

	c.mu.Lock()
	c.completing = false
	c.state = Idle
	c.remaining = 0
	if after != nil {
		c.profile = after.Clone()
	}
	var ev Event
	if err != nil {
		ev = c.eventLocked(EventFailed)
		ev.Err = err
	} else {
		ev = c.eventLocked(EventCompleted)
		ev.Data = &data
	}
	c.mu.Unlock()

	if err != nil {
		slog.Error("session award failed", "error", err, "minutes", minutes, "mode", mode)
	} else if c.sequencer != nil {
		c.sequencer.Present(data)
	}
	c.emit(ev)
}

// award runs the network steps in order: baseline profile if unknown, award,
// then refetch.
func (c *Controller) award(minutes float64, mode award.Mode, before *models.Profile) (models.PostSessionData, *models.Profile, error) {
	if before == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.awardTimeout)
		p, err := c.awarder.GetProfile(ctx)
		cancel()
		if err != nil {
			return models.PostSessionData{}, nil, fmt.Errorf("failed to load profile: %w", err)
		}
		before = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.awardTimeout)
	resp, err := c.awarder.AwardXP(ctx, minutes, string(mode))
	cancel()
	if err != nil {
		return models.PostSessionData{}, nil, fmt.Errorf("failed to award xp: %w", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), c.awardTimeout)
	after, err := c.awarder.GetProfile(ctx)
	cancel()
	if err != nil {
		return models.PostSessionData{}, nil, fmt.Errorf("failed to refresh profile: %w", err)
	}

	return BuildPostSessionData(before, after, resp, minutes, mode, c.levels), after, nil
}

func (c *Controller) statusLocked() Status {
	return Status{
		State:            c.state,
		Mode:             c.mode,
		Committed:        c.committed,
		Remaining:        c.remaining,
		BackgroundPaused: c.backgroundPaused,
	}
}

func (c *Controller) eventLocked(kind EventKind) Event {
	return Event{Kind: kind, Status: c.statusLocked()}
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// BuildPostSessionData combines the profiles around an award into the data
// shown by the result views. The bonus is recomputed for display.
func BuildPostSessionData(before, after *models.Profile, resp *models.AwardResponse, minutes float64, mode award.Mode, table *levels.Table) models.PostSessionData {
	xp := resp.XPEarned
	bonus := 0
	if mode == award.ModeHard {
		bonus = xp / 2
	}

	data := models.PostSessionData{
		Duration:      math.Round(minutes*100) / 100,
		BaseXPEarned:  xp - bonus,
		BonusXPEarned: bonus,
		WasHardMode:   mode == award.ModeHard,
		OldLevel:      before.Level,
		NewLevel:      after.Level,
		LevelChanged:  after.Level > before.Level,
		OldStreak:     before.Streak,
		NewStreak:     after.Streak,
		StreakChanged: after.Streak > before.Streak,
		OldXP:         before.XP,
		CurrentXP:     after.XP,
	}

	if table != nil {
		if next, ok := table.NextThreshold(after.Level); ok {
			data.XPRequiredForNextLevel = &next
		}
	}

	return data
}
