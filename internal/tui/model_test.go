package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/models"
	"github.com/terra-clan/focus-engine/internal/notify"
	"github.com/terra-clan/focus-engine/internal/session"
)

type stubAwarder struct{}

func (stubAwarder) AwardXP(ctx context.Context, minutes float64, mode string) (*models.AwardResponse, error) {
	return &models.AwardResponse{Success: true}, nil
}

func (stubAwarder) GetProfile(ctx context.Context) (*models.Profile, error) {
	return &models.Profile{ID: "u1", XP: 480, Level: 4}, nil
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T) *Model {
	t.Helper()
	events := make(chan session.Event, 16)
	var m *Model
	seq := notify.NewSequencer(notify.WithViewProgress(func(d models.PostSessionData) { m.ShowProgress(d) }))
	ctrl := session.NewController(stubAwarder{}, levels.Default(), seq, session.WithEvents(EventSink(events)))
	t.Cleanup(ctrl.Close)
	m = NewModel(ctrl, seq, levels.Default(), events, Options{Duration: 25 * time.Minute})
	return m
}

func TestDurationAndModeSelection(t *testing.T) {
	m := newTestModel(t)

	m.Update(keyMsg("+"))
	if m.duration != 30*time.Minute {
		t.Errorf("expected 30m, got %s", m.duration)
	}
	for i := 0; i < 10; i++ {
		m.Update(keyMsg("-"))
	}
	if m.duration != minDuration {
		t.Errorf("expected duration clamped to %s, got %s", minDuration, m.duration)
	}

	m.Update(keyMsg("m"))
	if m.mode != award.ModeHard {
		t.Errorf("expected hard mode, got %s", m.mode)
	}
	if !strings.Contains(m.View(), "hard") {
		t.Error("expected view to show hard mode")
	}
}

func TestStartAndConfirmCancel(t *testing.T) {
	m := newTestModel(t)

	m.Update(keyMsg("s"))
	if m.status.State != session.Active {
		t.Fatalf("expected active, got %s", m.status.State)
	}

	m.Update(keyMsg("c"))
	if m.screen != screenConfirmCancel {
		t.Fatal("expected cancel confirmation")
	}
	m.Update(keyMsg("n"))
	if m.status.State != session.Active {
		t.Errorf("declining must keep the session, got %s", m.status.State)
	}

	m.Update(keyMsg("c"))
	m.Update(keyMsg("y"))
	if m.status.State != session.Idle {
		t.Errorf("expected idle after cancel, got %s", m.status.State)
	}
}

func TestPauseOnlyInEasyMode(t *testing.T) {
	m := newTestModel(t)
	m.Update(keyMsg("m"))
	m.Update(keyMsg("s"))

	m.Update(keyMsg("p"))
	if m.status.State != session.Active {
		t.Errorf("hard session must not pause, got %s", m.status.State)
	}
	if m.err == nil {
		t.Error("expected pause error to be shown")
	}
}

func TestBlurAndFocus(t *testing.T) {
	m := newTestModel(t)
	m.Update(keyMsg("s"))

	m.Update(tea.BlurMsg{})
	if m.status.State != session.ActivePaused || !m.status.BackgroundPaused {
		t.Fatalf("expected background pause, got %+v", m.status)
	}

	m.Update(tea.FocusMsg{})
	if m.status.State != session.Active {
		t.Errorf("expected resume on focus, got %s", m.status.State)
	}
}

func TestNotificationKeys(t *testing.T) {
	m := newTestModel(t)
	m.seq.Present(models.PostSessionData{OldLevel: 4, NewLevel: 5, OldStreak: 0, NewStreak: 1, CurrentXP: 490})

	if !strings.Contains(m.View(), "session complete") {
		t.Error("expected summary view")
	}

	m.Update(keyMsg(" "))
	if n, _ := m.seq.Current(); n.Kind != notify.KindStreak {
		t.Errorf("expected streak view next, got %s", n.Kind)
	}

	m.Update(keyMsg("v"))
	if m.screen != screenProgress {
		t.Fatal("expected progress view")
	}
	if len(m.seq.Pending()) != 0 {
		t.Error("expected queue cleared by view progress")
	}
	if !strings.Contains(m.View(), "progress") {
		t.Error("expected progress view rendered")
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[time.Duration]string{
		25 * time.Minute:                  "25:00",
		90*time.Second + time.Millisecond: "01:30",
		0:                                 "00:00",
		-time.Second:                      "00:00",
	}
	for d, want := range tests {
		if got := formatClock(d); got != want {
			t.Errorf("formatClock(%s) = %s, want %s", d, got, want)
		}
	}
}

func TestEventSinkKeepsTerminalEvents(t *testing.T) {
	ch := make(chan session.Event, 2)
	sink := EventSink(ch)

	for i := 0; i < 5; i++ {
		sink(session.Event{Kind: session.EventTick})
	}
	if len(ch) != 2 {
		t.Fatalf("expected full channel, got %d", len(ch))
	}

	sink(session.Event{Kind: session.EventCompleted, Status: session.Status{State: session.Idle}})
	sink(session.Event{Kind: session.EventTick})

	var got []session.EventKind
	for len(ch) > 0 {
		got = append(got, (<-ch).Kind)
	}
	if len(got) != 2 || got[1] != session.EventCompleted {
		t.Errorf("expected completed event to be queued last, got %v", got)
	}
}

func TestEventSinkFailedAfterCompleted(t *testing.T) {
	ch := make(chan session.Event, 1)
	sink := EventSink(ch)

	sink(session.Event{Kind: session.EventCompleted})
	sink(session.Event{Kind: session.EventFailed})

	if ev := <-ch; ev.Kind != session.EventFailed {
		t.Errorf("expected the latest terminal event, got %s", ev.Kind)
	}
}
