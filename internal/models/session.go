package models

import "time"

// Session is one authenticated browser tab. It lives only in process memory.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// IdleFor reports how long the session has gone without an activity signal.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}
