// Package tui is the terminal front end for focus sessions.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/models"
	"github.com/terra-clan/focus-engine/internal/notify"
	"github.com/terra-clan/focus-engine/internal/session"
)

const (
	durationStep = 5 * time.Minute
	minDuration  = 5 * time.Minute
	maxDuration  = 180 * time.Minute
	barWidth     = 30
)

type screen int

const (
	screenTimer screen = iota
	screenConfirmCancel
	screenProgress
)

// async messages

type sessionEventMsg session.Event

type profileLoadedMsg struct {
	profile *models.Profile
	err     error
}

// Options configures the model
type Options struct {
	Duration time.Duration
	Mode     award.Mode
	// Debug enables the force-complete key
	Debug bool
}

// Model is the bubbletea model for a focus session
type Model struct {
	ctrl   *session.Controller
	seq    *notify.Sequencer
	levels *levels.Table
	events <-chan session.Event
	debug  bool

	duration time.Duration
	mode     award.Mode
	status   session.Status
	profile  *models.Profile
	progress *models.PostSessionData
	screen   screen
	err      error
	width    int
}

// NewModel wires a model to a controller whose events are delivered on events
func NewModel(ctrl *session.Controller, seq *notify.Sequencer, table *levels.Table, events <-chan session.Event, opts Options) *Model {
	if opts.Duration <= 0 {
		opts.Duration = 25 * time.Minute
	}
	return &Model{
		ctrl:     ctrl,
		seq:      seq,
		levels:   table,
		events:   events,
		debug:    opts.Debug,
		duration: opts.Duration,
		mode:     award.ParseMode(string(opts.Mode)),
		status:   ctrl.Status(),
	}
}

// EventSink returns a controller event callback that feeds ch without
// blocking the controller. Ticks are dropped when ch is full; any other event
// evicts the oldest queued one, since each event carries the full status.
func EventSink(ch chan session.Event) func(session.Event) {
	return func(ev session.Event) {
		if ev.Kind == session.EventTick {
			select {
			case ch <- ev:
			default:
			}
			return
		}
		for {
			select {
			case ch <- ev:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	}
}

// Run starts the program on the alternate screen
func Run(m *Model) error {
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())
	_, err := program.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.loadProfile())
}

func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return nil
		}
		return sessionEventMsg(ev)
	}
}

func (m *Model) loadProfile() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), session.DefaultAwardTimeout)
		defer cancel()
		p, err := m.ctrl.Refresh(ctx)
		return profileLoadedMsg{profile: p, err: err}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.BlurMsg:
		m.ctrl.Background()
		m.status = m.ctrl.Status()
		return m, nil

	case tea.FocusMsg:
		m.ctrl.Foreground()
		m.status = m.ctrl.Status()
		return m, nil

	case profileLoadedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("could not load profile: %w", msg.err)
		} else {
			m.profile = msg.profile
		}
		return m, nil

	case sessionEventMsg:
		m.handleEvent(session.Event(msg))
		return m, m.waitForEvent()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) handleEvent(ev session.Event) {
	m.status = ev.Status
	switch ev.Kind {
	case session.EventFailed:
		m.err = fmt.Errorf("session progress lost: %w", ev.Err)
		if m.screen == screenConfirmCancel {
			m.screen = screenTimer
		}
	case session.EventCompleted:
		m.err = nil
		m.profile = m.ctrl.Profile()
		if m.screen == screenConfirmCancel {
			m.screen = screenTimer
		}
	case session.EventCancelled:
		if m.screen == screenConfirmCancel {
			m.screen = screenTimer
		}
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.ctrl.Close()
		return m, tea.Quit
	}

	switch m.screen {
	case screenConfirmCancel:
		switch key {
		case "y":
			if err := m.ctrl.Cancel(); err != nil {
				m.err = err
			}
			m.screen = screenTimer
		case "n", "esc":
			m.screen = screenTimer
		}
		m.status = m.ctrl.Status()
		return m, nil

	case screenProgress:
		if key == "esc" || key == "enter" || key == "q" {
			m.progress = nil
			m.screen = screenTimer
		}
		return m, nil
	}

	if _, ok := m.seq.Current(); ok {
		switch key {
		case "enter", " ":
			m.seq.Dismiss()
		case "n":
			m.seq.StartNewSession()
		case "v":
			m.seq.ViewProgress()
		}
		return m, nil
	}

	switch m.status.State {
	case session.Idle:
		switch key {
		case "q":
			m.ctrl.Close()
			return m, tea.Quit
		case "+", "=", "up":
			m.duration = min(m.duration+durationStep, maxDuration)
		case "-", "down":
			m.duration = max(m.duration-durationStep, minDuration)
		case "m", "tab":
			if m.mode == award.ModeHard {
				m.mode = award.ModeEasy
			} else {
				m.mode = award.ModeHard
			}
		case "s", "enter":
			m.err = nil
			if err := m.ctrl.Start(m.duration, m.mode); err != nil {
				m.err = err
			}
		}

	case session.Active, session.ActivePaused:
		switch key {
		case "p", " ":
			var err error
			if m.status.State == session.ActivePaused {
				err = m.ctrl.Resume()
			} else {
				err = m.ctrl.Pause()
			}
			if err != nil {
				m.err = err
			}
		case "c", "esc":
			m.screen = screenConfirmCancel
		case "f":
			if m.debug {
				if err := m.ctrl.ForceComplete(); err != nil {
					m.err = err
				}
			}
		}
	}

	m.status = m.ctrl.Status()
	return m, nil
}

// ShowProgress opens the progress view for data. It is the sequencer's
// view-progress callback.
func (m *Model) ShowProgress(data models.PostSessionData) {
	m.progress = &data
	m.screen = screenProgress
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("focus"))
	b.WriteString("  ")
	b.WriteString(m.profileLine())
	b.WriteString("\n\n")

	switch {
	case m.screen == screenProgress:
		b.WriteString(m.progressView())
	default:
		if n, ok := m.seq.Current(); ok {
			b.WriteString(m.notificationView(n))
		} else {
			b.WriteString(m.timerView())
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err.Error()))
	}

	b.WriteString("\n\n")
	b.WriteString(mutedStyle.Render(m.helpLine()))

	return appStyle.Render(b.String())
}

func (m *Model) profileLine() string {
	if m.profile == nil {
		return mutedStyle.Render("loading profile...")
	}
	p := m.profile
	line := fmt.Sprintf("level %d  %d xp  streak %d (best %d)", p.Level, p.XP, p.Streak, p.LongestStreak)
	if t, ok := m.levels.Threshold(p.Level); ok && t.Title != "" {
		line = t.Title + "  " + line
	}
	return mutedStyle.Render(line)
}

func (m *Model) timerView() string {
	st := m.status

	if st.State == session.Idle {
		mode := goodStyle.Render("easy")
		if m.mode == award.ModeHard {
			mode = hotStyle.Render("hard")
		}
		_, _, xp := award.SessionXP(m.duration.Minutes(), m.mode)
		body := fmt.Sprintf("%s\n\nmode: %s\nreward: %d xp",
			clockStyle.Render(formatClock(m.duration)), mode, xp)
		return paneStyle.Render(body)
	}

	label := st.State.String()
	switch st.State {
	case session.ActivePaused:
		if st.BackgroundPaused {
			label = "paused while away"
		}
		label = hotStyle.Render(label)
	case session.Completing:
		label = goodStyle.Render("saving session...")
	default:
		label = mutedStyle.Render(fmt.Sprintf("%s session", st.Mode))
	}

	body := fmt.Sprintf("%s\n\n%s\n%s",
		clockStyle.Render(formatClock(st.Remaining)),
		progressBar(st.Committed-st.Remaining, st.Committed),
		label,
	)
	if m.screen == screenConfirmCancel {
		body += "\n\n" + hotStyle.Render("cancel this session? progress will be lost (y/n)")
	}
	return paneStyle.Render(body)
}

func (m *Model) notificationView(n notify.Notification) string {
	d := n.Data
	var body string
	switch n.Kind {
	case notify.KindSummary:
		body = fmt.Sprintf("%s\n\n%.0f minutes focused\n+%d xp", titleStyle.Render("session complete"), d.Duration, d.BaseXPEarned)
		if d.WasHardMode {
			body += hotStyle.Render(fmt.Sprintf("  +%d hard mode bonus", d.BonusXPEarned))
		}
		body += fmt.Sprintf("\n%d -> %d xp", d.OldXP, d.CurrentXP)
		if d.XPRequiredForNextLevel != nil {
			body += mutedStyle.Render(fmt.Sprintf("  (%d to next level)", max(*d.XPRequiredForNextLevel-d.CurrentXP, 0)))
		}
	case notify.KindStreak:
		body = fmt.Sprintf("%s\n\n%d -> %d days", goodStyle.Render("streak extended"), d.OldStreak, d.NewStreak)
	case notify.KindLevel:
		body = fmt.Sprintf("%s\n\nlevel %d -> %d", hotStyle.Render("level up"), d.OldLevel, d.NewLevel)
		if t, ok := m.levels.Threshold(d.NewLevel); ok && t.Title != "" {
			body += "\n" + titleStyle.Render(t.Title)
		}
	}
	return notificationStyle.Render(body)
}

func (m *Model) progressView() string {
	if m.progress == nil {
		return paneStyle.Render("no session data")
	}
	d := m.progress
	current, _ := m.levels.Threshold(d.NewLevel)
	body := fmt.Sprintf("%s\n\nlevel %d  %d xp\n", titleStyle.Render("progress"), d.NewLevel, d.CurrentXP)
	if d.XPRequiredForNextLevel != nil {
		body += progressBar(
			time.Duration(d.CurrentXP-current.XPRequired),
			time.Duration(*d.XPRequiredForNextLevel-current.XPRequired),
		)
		body += mutedStyle.Render(fmt.Sprintf("\n%d / %d xp to level %d", d.CurrentXP, *d.XPRequiredForNextLevel, d.NewLevel+1))
	} else {
		body += goodStyle.Render("max level reached")
	}
	body += fmt.Sprintf("\nstreak %d", d.NewStreak)
	return paneStyle.Render(body)
}

func (m *Model) helpLine() string {
	if m.screen == screenProgress {
		return "esc back"
	}
	if _, ok := m.seq.Current(); ok {
		return "enter next • n new session • v view progress"
	}
	switch m.status.State {
	case session.Idle:
		return "s start • +/- duration • m mode • q quit"
	case session.Active, session.ActivePaused:
		keys := "c cancel"
		if m.status.Mode == award.ModeEasy {
			keys = "p pause/resume • " + keys
		}
		if m.debug {
			keys += " • f force complete"
		}
		return keys
	}
	return ""
}

func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func progressBar(done, total time.Duration) string {
	if total <= 0 {
		return ""
	}
	filled := int(float64(barWidth) * float64(done) / float64(total))
	filled = min(max(filled, 0), barWidth)
	return barFullStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", barWidth-filled))
}
