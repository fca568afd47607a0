package models

// PostSessionData combines profile state before and after an award.
// It is built once per completed session and drained by the notification queue.
type PostSessionData struct {
	Duration               float64 `json:"duration"`
	BaseXPEarned           int     `json:"baseXPEarned"`
	BonusXPEarned          int     `json:"bonusXPEarned"`
	WasHardMode            bool    `json:"wasHardMode"`
	OldLevel               int     `json:"oldLevel"`
	NewLevel               int     `json:"newLevel"`
	LevelChanged           bool    `json:"levelChanged"`
	OldStreak              int     `json:"oldStreak"`
	NewStreak              int     `json:"newStreak"`
	StreakChanged          bool    `json:"streakChanged"`
	OldXP                  int     `json:"oldXP"`
	CurrentXP              int     `json:"currentXP"`
	XPRequiredForNextLevel *int    `json:"xpRequiredForNextLevel"`
}

// XPEarned returns the total XP shown for the session
func (d *PostSessionData) XPEarned() int {
	return d.BaseXPEarned + d.BonusXPEarned
}
