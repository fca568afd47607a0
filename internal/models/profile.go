package models

import "time"

// Profile is a user's persisted gamification record
type Profile struct {
	ID                   string     `json:"id"`
	XP                   int        `json:"xp"`
	Level                int        `json:"level"`
	Streak               int        `json:"streak"`
	LongestStreak        int        `json:"longest_streak"`
	LastSessionTimestamp *time.Time `json:"last_session_timestamp"`
	OnboardingCompleted  bool       `json:"onboarding_completed"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the profile
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.LastSessionTimestamp != nil {
		ts := *p.LastSessionTimestamp
		c.LastSessionTimestamp = &ts
	}
	return &c
}

// ProfileUpdate is the engine-computed write applied to a profile row.
// Streak is nil when the session did not qualify for the streak.
type ProfileUpdate struct {
	XP     int
	Level  int
	Streak *StreakUpdate
}

// StreakUpdate holds the streak columns written for a qualifying session
type StreakUpdate struct {
	Streak               int
	LongestStreak        int
	LastSessionTimestamp time.Time
}

// Apply returns a copy of p with the update applied
func (u ProfileUpdate) Apply(p Profile) Profile {
	out := *p.Clone()
	out.XP = u.XP
	out.Level = u.Level
	if u.Streak != nil {
		ts := u.Streak.LastSessionTimestamp
		out.Streak = u.Streak.Streak
		out.LongestStreak = u.Streak.LongestStreak
		out.LastSessionTimestamp = &ts
	}
	return out
}

// AwardRecord is one row of the award ledger
type AwardRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	DurationMinutes float64   `json:"duration_minutes"`
	Mode            string    `json:"mode"`
	XPEarned        int       `json:"xp_earned"`
	LevelBefore     int       `json:"level_before"`
	LevelAfter      int       `json:"level_after"`
	StreakBefore    int       `json:"streak_before"`
	StreakAfter     int       `json:"streak_after"`
	CreatedAt       time.Time `json:"created_at"`
}
