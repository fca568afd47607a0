package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/models"
	"github.com/terra-clan/focus-engine/internal/notify"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type tickers struct {
	mu   sync.Mutex
	all  []*fakeTicker
	last *fakeTicker
}

func (ts *tickers) factory(d time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	ts.all = append(ts.all, t)
	ts.last = t
	return t
}

func (ts *tickers) current() *fakeTicker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.last
}

func (ts *tickers) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.all)
}

// fakeAwarder applies awards with the real engine to an in-memory profile
type fakeAwarder struct {
	mu        sync.Mutex
	engine    *award.Engine
	profile   models.Profile
	now       time.Time
	awardErr  error
	calls     int
	release   chan struct{}
	lastInput struct {
		minutes float64
		mode    string
	}
}

func newFakeAwarder(p models.Profile) *fakeAwarder {
	return &fakeAwarder{
		engine:  award.NewEngine(levels.Default()),
		profile: p,
		now:     time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeAwarder) AwardXP(ctx context.Context, minutes float64, mode string) (*models.AwardResponse, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastInput.minutes = minutes
	f.lastInput.mode = mode
	if f.awardErr != nil {
		return nil, f.awardErr
	}

	out, err := f.engine.Apply(f.profile, award.Input{DurationMinutes: minutes, Mode: award.ParseMode(mode)}, f.now)
	if err != nil {
		return nil, err
	}
	f.profile = out.Profile
	return &models.AwardResponse{
		Success:        true,
		XPEarned:       out.XPEarned,
		LevelChanged:   out.LevelChanged,
		UpdatedProfile: f.profile.Snapshot(),
	}, nil
}

func (f *fakeAwarder) GetProfile(ctx context.Context) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile.Clone(), nil
}

func (f *fakeAwarder) awardCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	ctrl    *Controller
	awarder *fakeAwarder
	tickers *tickers
	seq     *notify.Sequencer
	events  chan Event
}

func newHarness(t *testing.T, p models.Profile, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		awarder: newFakeAwarder(p),
		tickers: &tickers{},
		seq:     notify.NewSequencer(),
		events:  make(chan Event, 256),
	}
	opts = append([]Option{
		WithTicker(h.tickers.factory),
		WithEvents(func(ev Event) { h.events <- ev }),
	}, opts...)
	h.ctrl = NewController(h.awarder, levels.Default(), h.seq, opts...)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case h.tickers.current().ch <- time.Now():
		case <-time.After(time.Second):
			t.Fatalf("tick %d was not consumed", i)
		}
	}
}

func (h *harness) waitFor(t *testing.T, kinds ...EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			for _, k := range kinds {
				if ev.Kind == k {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", kinds)
		}
	}
}

func TestNaturalCompletionEndToEnd(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", XP: 480, Level: 4})

	require.NoError(t, h.ctrl.Start(3*time.Second, award.ModeEasy))
	assert.Equal(t, Active, h.ctrl.Status().State)

	h.tick(t, 2)
	assert.Equal(t, time.Second, h.ctrl.Status().Remaining)

	h.tick(t, 1)
	ev := h.waitFor(t, EventCompleted, EventFailed)
	require.Equal(t, EventCompleted, ev.Kind, "err: %v", ev.Err)
	require.NotNil(t, ev.Data)

	// 3 seconds is 0.05 minutes: no XP, no streak, but still exactly one award call
	assert.Equal(t, 1, h.awarder.awardCalls())
	assert.Equal(t, Idle, h.ctrl.Status().State)
	assert.True(t, h.tickers.current().isStopped())
}

func TestCompletionBuildsPostSessionData(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", XP: 480, Level: 4}, WithForceComplete(true))
	_, err := h.ctrl.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Start(25*time.Minute, award.ModeEasy))
	require.NoError(t, h.ctrl.ForceComplete())

	ev := h.waitFor(t, EventCompleted, EventFailed)
	require.Equal(t, EventCompleted, ev.Kind, "err: %v", ev.Err)

	d := ev.Data
	assert.Equal(t, 10, d.BaseXPEarned)
	assert.Equal(t, 0, d.BonusXPEarned)
	assert.Equal(t, 480, d.OldXP)
	assert.Equal(t, 490, d.CurrentXP)
	assert.Equal(t, 4, d.OldLevel)
	assert.Equal(t, 5, d.NewLevel)
	assert.True(t, d.LevelChanged)
	assert.Equal(t, 0, d.OldStreak)
	assert.Equal(t, 1, d.NewStreak)
	assert.True(t, d.StreakChanged)
	require.NotNil(t, d.XPRequiredForNextLevel)
	assert.Equal(t, 631, *d.XPRequiredForNextLevel)

	assert.Equal(t, []notify.Kind{notify.KindSummary, notify.KindStreak, notify.KindLevel}, h.seq.Pending())
	assert.Equal(t, 490, h.ctrl.Profile().XP)
	assert.Equal(t, 25.0, h.awarder.lastInput.minutes)
}

func TestCommittedDurationIsFixed(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1}, WithForceComplete(true))

	require.NoError(t, h.ctrl.Start(30*time.Minute, award.ModeHard))
	assert.ErrorIs(t, h.ctrl.Start(45*time.Minute, award.ModeEasy), ErrInvalidTransition)

	h.tick(t, 5)
	require.NoError(t, h.ctrl.ForceComplete())
	ev := h.waitFor(t, EventCompleted, EventFailed)
	require.Equal(t, EventCompleted, ev.Kind)

	assert.Equal(t, 30.0, h.awarder.lastInput.minutes)
	assert.Equal(t, "hard", h.awarder.lastInput.mode)
	assert.Equal(t, 24, ev.Data.BaseXPEarned+ev.Data.BonusXPEarned)
	assert.Equal(t, 12, ev.Data.BonusXPEarned)
	assert.True(t, ev.Data.WasHardMode)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(10*time.Second, award.ModeEasy))
	h.tick(t, 3)
	first := h.tickers.current()

	require.NoError(t, h.ctrl.Pause())
	assert.Equal(t, ActivePaused, h.ctrl.Status().State)
	assert.Equal(t, 7*time.Second, h.ctrl.Status().Remaining)
	assert.True(t, first.isStopped())
	assert.ErrorIs(t, h.ctrl.Pause(), ErrInvalidTransition)

	require.NoError(t, h.ctrl.Resume())
	assert.Equal(t, Active, h.ctrl.Status().State)
	assert.Equal(t, 2, h.tickers.count())

	h.tick(t, 1)
	assert.Equal(t, 6*time.Second, h.ctrl.Status().Remaining)
}

func TestHardModeCannotPause(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(time.Minute, award.ModeHard))
	assert.ErrorIs(t, h.ctrl.Pause(), ErrPauseNotAllowed)
	assert.Equal(t, Active, h.ctrl.Status().State)
}

func TestCancelDiscardsProgress(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(time.Minute, award.ModeHard))
	h.tick(t, 10)
	require.NoError(t, h.ctrl.Cancel())

	assert.Equal(t, Idle, h.ctrl.Status().State)
	assert.True(t, h.tickers.current().isStopped())
	assert.Equal(t, 0, h.awarder.awardCalls())
	assert.ErrorIs(t, h.ctrl.Cancel(), ErrInvalidTransition)
}

func TestBackgroundHardModeCancels(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(time.Minute, award.ModeHard))
	h.tick(t, 2)
	h.ctrl.Background()

	assert.Equal(t, Idle, h.ctrl.Status().State)
	h.waitFor(t, EventCancelled)
	assert.True(t, h.tickers.current().isStopped())
	assertTickIgnored(t, h.tickers.current())
	assert.Equal(t, 0, h.awarder.awardCalls())
}

// assertTickIgnored checks that nothing is reading ticks from ft anymore
func assertTickIgnored(t *testing.T, ft *fakeTicker) {
	t.Helper()
	select {
	case ft.ch <- time.Now():
		t.Error("tick consumed after the countdown stopped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseStopsCountdown(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(2*time.Second, award.ModeEasy))
	h.tick(t, 1)
	ticker := h.tickers.current()

	h.ctrl.Close()

	assert.True(t, ticker.isStopped())
	assert.Equal(t, Idle, h.ctrl.Status().State)
	assertTickIgnored(t, ticker)

	// the remaining second never elapses, so no award is made
	assert.Equal(t, 0, h.awarder.awardCalls())
	for len(h.events) > 0 {
		ev := <-h.events
		assert.NotEqual(t, EventCompleted, ev.Kind)
		assert.NotEqual(t, EventFailed, ev.Kind)
	}

	assert.ErrorIs(t, h.ctrl.Start(time.Minute, award.ModeEasy), ErrInvalidTransition)
	assert.Equal(t, 1, h.tickers.count())
}

func TestClosePausedSessionStopsCountdown(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(time.Minute, award.ModeEasy))
	h.ctrl.Background()
	require.Equal(t, ActivePaused, h.ctrl.Status().State)

	h.ctrl.Close()
	h.ctrl.Foreground()

	assert.Equal(t, Idle, h.ctrl.Status().State)
	assert.Equal(t, 1, h.tickers.count())
	assert.True(t, h.tickers.current().isStopped())
}

func TestBackgroundEasyModeAutoPausesAndResumes(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(time.Minute, award.ModeEasy))
	h.ctrl.Background()
	st := h.ctrl.Status()
	assert.Equal(t, ActivePaused, st.State)
	assert.True(t, st.BackgroundPaused)

	h.ctrl.Foreground()
	assert.Equal(t, Active, h.ctrl.Status().State)
}

func TestForegroundKeepsManualPause(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(time.Minute, award.ModeEasy))
	require.NoError(t, h.ctrl.Pause())

	h.ctrl.Background()
	h.ctrl.Foreground()

	st := h.ctrl.Status()
	assert.Equal(t, ActivePaused, st.State)
	assert.False(t, st.BackgroundPaused)
}

func TestForceCompleteDisabledByDefault(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})

	require.NoError(t, h.ctrl.Start(time.Minute, award.ModeEasy))
	assert.ErrorIs(t, h.ctrl.ForceComplete(), ErrForceCompleteDisabled)
	assert.Equal(t, Active, h.ctrl.Status().State)
}

func TestCompletionLatch(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1}, WithForceComplete(true))
	h.awarder.release = make(chan struct{})

	require.NoError(t, h.ctrl.Start(2*time.Second, award.ModeEasy))
	h.tick(t, 2)
	assert.Equal(t, Completing, h.ctrl.Status().State)

	// further triggers while the award is in flight are rejected
	assert.ErrorIs(t, h.ctrl.ForceComplete(), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Start(time.Minute, award.ModeEasy), ErrInvalidTransition)

	close(h.awarder.release)
	h.waitFor(t, EventCompleted, EventFailed)
	assert.Equal(t, 1, h.awarder.awardCalls())
	assert.Equal(t, Idle, h.ctrl.Status().State)
}

func TestAwardFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", XP: 40, Level: 1}, WithForceComplete(true))
	h.awarder.awardErr = errors.New("HTTP 500: failed to award xp")

	require.NoError(t, h.ctrl.Start(25*time.Minute, award.ModeEasy))
	require.NoError(t, h.ctrl.ForceComplete())

	ev := h.waitFor(t, EventCompleted, EventFailed)
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Error(t, ev.Err)
	assert.Equal(t, Idle, h.ctrl.Status().State)
	assert.Empty(t, h.seq.Pending())

	// a new session can start after a failure
	require.NoError(t, h.ctrl.Start(time.Minute, award.ModeEasy))
}

func TestAwardTimeout(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1},
		WithForceComplete(true),
		WithAwardTimeout(20*time.Millisecond),
	)
	h.awarder.release = make(chan struct{})
	defer close(h.awarder.release)

	require.NoError(t, h.ctrl.Start(25*time.Minute, award.ModeEasy))
	require.NoError(t, h.ctrl.ForceComplete())

	ev := h.waitFor(t, EventCompleted, EventFailed)
	assert.Equal(t, EventFailed, ev.Kind)
	assert.ErrorIs(t, ev.Err, context.DeadlineExceeded)
}

func TestStartRejectsInvalidDuration(t *testing.T) {
	h := newHarness(t, models.Profile{ID: "u1", Level: 1})
	assert.ErrorIs(t, h.ctrl.Start(0, award.ModeEasy), ErrInvalidDuration)
}

func TestBuildPostSessionData(t *testing.T) {
	table := levels.Default()

	tests := []struct {
		name  string
		mode  award.Mode
		xp    int
		base  int
		bonus int
	}{
		{"easy", award.ModeEasy, 10, 10, 0},
		{"hard even", award.ModeHard, 20, 10, 10},
		{"hard odd", award.ModeHard, 7, 4, 3},
		{"hard zero", award.ModeHard, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := &models.Profile{XP: 100, Level: 2, Streak: 3}
			after := &models.Profile{XP: 100 + tt.xp, Level: table.LevelFor(100 + tt.xp), Streak: 3}
			d := BuildPostSessionData(before, after, &models.AwardResponse{XPEarned: tt.xp}, 25, tt.mode, table)

			assert.Equal(t, tt.base, d.BaseXPEarned)
			assert.Equal(t, tt.bonus, d.BonusXPEarned)
			assert.Equal(t, tt.xp, d.XPEarned())
			assert.False(t, d.StreakChanged)
		})
	}

	t.Run("max level has no next threshold", func(t *testing.T) {
		top := table.MaxLevel()
		p := &models.Profile{XP: 999999, Level: top}
		d := BuildPostSessionData(p, p, &models.AwardResponse{}, 25, award.ModeEasy, table)
		assert.Nil(t, d.XPRequiredForNextLevel)
	})
}
