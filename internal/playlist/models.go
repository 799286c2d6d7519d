package playlist

import (
	"time"
)

// Playlist is the one-to-one companion of a session. It holds only
// identity; items are modelled separately.
type Playlist struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Item is one queued song request. Items are ordered by Position, a dense
// zero-based sequence; the item at position 0 is the next song.
type Item struct {
	ID         string    `json:"id"`
	PlaylistID string    `json:"playlistId"`
	Artist     string    `json:"artist"`
	Title      string    `json:"title"`
	SingerName *string   `json:"singerName,omitempty"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"createdAt"`
}
