package models

import "time"

// AwardRequest is the body of an award-xp call
type AwardRequest struct {
	SessionDurationMinutes *float64 `json:"sessionDurationMinutes"`
	FocusMode              string   `json:"focusMode,omitempty"`
}

// AwardResponse is returned after a successful award
type AwardResponse struct {
	Success        bool            `json:"success"`
	XPEarned       int             `json:"xpEarned"`
	LevelChanged   bool            `json:"levelChanged"`
	StreakInfo     *StreakInfo     `json:"streakInfo,omitempty"`
	UpdatedProfile ProfileSnapshot `json:"updatedProfile"`
}

// StreakInfo describes the streak after a qualifying session
type StreakInfo struct {
	CurrentStreak        int       `json:"currentStreak"`
	LongestStreak        int       `json:"longestStreak"`
	LastSessionTimestamp time.Time `json:"lastSessionTimestamp"`
}

// ProfileSnapshot is the gamification subset of a profile sent to clients
type ProfileSnapshot struct {
	XP                   int        `json:"xp"`
	Level                int        `json:"level"`
	Streak               int        `json:"streak"`
	LongestStreak        int        `json:"longest_streak"`
	LastSessionTimestamp *time.Time `json:"last_session_timestamp"`
}

// Snapshot returns the gamification subset of the profile
func (p *Profile) Snapshot() ProfileSnapshot {
	return ProfileSnapshot{
		XP:                   p.XP,
		Level:                p.Level,
		Streak:               p.Streak,
		LongestStreak:        p.LongestStreak,
		LastSessionTimestamp: p.LastSessionTimestamp,
	}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}
