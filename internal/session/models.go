package session

import (
	"time"
)

// Session represents one isolated karaoke event. Access to a session's
// playlist is granted by its link token, an opaque bearer credential with
// the same lifetime as the session itself.
type Session struct {
	ID        string    `json:"id"`
	LinkToken string    `json:"linkToken,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Config    Config    `json:"config"`

	LastDisplaySeenAt *time.Time `json:"lastDisplaySeenAt,omitempty"`
	PausedPlayerCount int        `json:"pausedPlayerCount"`
}

// Config holds the per-session flags chosen at session start.
type Config struct {
	RequireSingerName        bool `json:"requireSingerName"`
	PauseBetweenSongsSeconds int  `json:"pauseBetweenSongsSeconds"`
	ReorderAllowed           bool `json:"reorderAllowed"`
}

// Client kinds reported by heartbeats. Only display heartbeats move the
// activity marker used by the cleanup guard.
const (
	ClientDisplay = "display"
	ClientPlayer  = "player"
	ClientRemote  = "remote"
)
