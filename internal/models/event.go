package models

import "time"

type EventType string

const (
	EventActivity     EventType = "activity"
	EventSessionEnded EventType = "session_ended"
)

// Reasons carried by EventSessionEnded.
const (
	EndReasonLogout  = "logout"
	EndReasonExpired = "expired"
)

// SessionEvent is exchanged over the session websocket.
type SessionEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
