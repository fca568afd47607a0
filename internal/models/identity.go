package models

import "time"

// Identity is the caller established by verifying a bearer token
type Identity struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsAuthenticatedUser reports whether the token belongs to a signed-in user.
// Anonymous and service tokens carry other roles.
func (i *Identity) IsAuthenticatedUser() bool {
	if i == nil || i.UserID == "" {
		return false
	}
	return i.Role == "" || i.Role == "authenticated"
}

// MaskedUserID returns the first 8 characters of the user id for logging
func (i *Identity) MaskedUserID() string {
	if len(i.UserID) < 8 {
		return "***"
	}
	return i.UserID[:8] + "..."
}
