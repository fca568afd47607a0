// Package award is the authoritative computation of XP, level and streak
// transitions for completed focus sessions.
package award

import (
	"fmt"
	"math"
	"time"

	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/models"
)

// Mode is the focus session variant
type Mode string

const (
	ModeEasy Mode = "easy"
	ModeHard Mode = "hard"
)

const (
	// MinutesPerXP is the focus time that earns one XP
	MinutesPerXP = 2.5
	// StreakMinMinutes is the shortest session that counts toward the streak
	StreakMinMinutes = 25
	// MaxSessionMinutes is the longest session accepted for an award
	MaxSessionMinutes = 24 * 60
)

// ParseMode returns the mode named by s, defaulting to easy
func ParseMode(s string) Mode {
	if Mode(s) == ModeHard {
		return ModeHard
	}
	return ModeEasy
}

// ValidateMinutes rejects durations that are not positive finite numbers
// or that exceed MaxSessionMinutes
func ValidateMinutes(minutes float64) error {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return fmt.Errorf("%w: sessionDurationMinutes must be a positive number", ErrInvalidInput)
	}
	if minutes > MaxSessionMinutes {
		return fmt.Errorf("%w: %v minutes", ErrDurationTooLong, minutes)
	}
	return nil
}

// SessionXP returns the XP for a session. Hard mode doubles the base.
func SessionXP(minutes float64, mode Mode) (base, bonus, total int) {
	base = int(math.Floor(minutes / MinutesPerXP))
	if base < 0 {
		base = 0
	}
	if mode == ModeHard {
		bonus = base
	}
	return base, bonus, base + bonus
}

// StreakState is the streak portion of a profile
type StreakState struct {
	Current       int
	Longest       int
	LastSessionAt *time.Time
}

// StreakTransition names what a qualifying session did to the streak
type StreakTransition string

const (
	StreakStarted   StreakTransition = "started"
	StreakExtended  StreakTransition = "extended"
	StreakUnchanged StreakTransition = "unchanged"
	StreakReset     StreakTransition = "reset"
)

// utcDate truncates t to its UTC calendar date
func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextStreak applies a qualifying session at now to prev.
// Days are UTC calendar dates. A last session dated after today is treated
// as clock skew and resets the streak.
func NextStreak(prev StreakState, now time.Time) (StreakState, StreakTransition) {
	next := StreakState{Current: prev.Current, Longest: prev.Longest}
	var transition StreakTransition

	today := utcDate(now)
	if prev.LastSessionAt == nil {
		next.Current = 1
		transition = StreakStarted
	} else {
		last := utcDate(*prev.LastSessionAt)
		switch {
		case last.Equal(today):
			transition = StreakUnchanged
		case last.Equal(today.AddDate(0, 0, -1)):
			next.Current = prev.Current + 1
			transition = StreakExtended
		default:
			next.Current = 1
			transition = StreakReset
		}
	}

	if next.Current > next.Longest {
		next.Longest = next.Current
	}

	ts := now.UTC()
	next.LastSessionAt = &ts

	return next, transition
}

// Input is a validated session completion event
type Input struct {
	DurationMinutes float64
	Mode            Mode
}

// Qualifies reports whether a session earning xp counts toward the streak
func (in Input) Qualifies(xp int) bool {
	return in.DurationMinutes >= StreakMinMinutes && xp > 0
}

// Outcome is everything the engine derived for one session
type Outcome struct {
	BaseXP       int
	BonusXP      int
	XPEarned     int
	OldLevel     int
	NewLevel     int
	LevelChanged bool

	// StreakApplied is false when the session was too short to count
	StreakApplied    bool
	StreakTransition StreakTransition

	Update  models.ProfileUpdate
	Profile models.Profile
}

// Engine computes award outcomes against a level table
type Engine struct {
	levels *levels.Table
}

// NewEngine creates an engine using table for level resolution
func NewEngine(table *levels.Table) *Engine {
	return &Engine{levels: table}
}

// Levels returns the engine's level table
func (e *Engine) Levels() *levels.Table {
	return e.levels
}

// Apply computes the outcome of in for profile p at now. It does not mutate p.
func (e *Engine) Apply(p models.Profile, in Input, now time.Time) (Outcome, error) {
	if err := ValidateMinutes(in.DurationMinutes); err != nil {
		return Outcome{}, err
	}
	if in.Mode != ModeHard {
		in.Mode = ModeEasy
	}

	base, bonus, total := SessionXP(in.DurationMinutes, in.Mode)
	if p.XP < 0 || total > math.MaxInt-p.XP {
		return Outcome{}, fmt.Errorf("%w: xp %d + %d", ErrXPOutOfRange, p.XP, total)
	}
	newXP := p.XP + total
	newLevel := e.levels.LevelFor(newXP)

	out := Outcome{
		BaseXP:       base,
		BonusXP:      bonus,
		XPEarned:     total,
		OldLevel:     p.Level,
		NewLevel:     newLevel,
		LevelChanged: newLevel != p.Level,
		Update: models.ProfileUpdate{
			XP:    newXP,
			Level: newLevel,
		},
	}

	if in.Qualifies(total) {
		next, transition := NextStreak(StreakState{
			Current:       p.Streak,
			Longest:       p.LongestStreak,
			LastSessionAt: p.LastSessionTimestamp,
		}, now)

		out.StreakApplied = true
		out.StreakTransition = transition
		out.Update.Streak = &models.StreakUpdate{
			Streak:               next.Current,
			LongestStreak:        next.Longest,
			LastSessionTimestamp: *next.LastSessionAt,
		}
	}

	out.Profile = out.Update.Apply(p)
	return out, nil
}
