package bridge

import (
	"encoding/json"
)

// Message kinds of the same-origin tab channel protocol.
const (
	MsgRequestState   = "request-state"
	MsgStateSync      = "state-sync-response"
	MsgPlaylistUpdate = "playlist-updated"
	MsgSessionEnded   = "session-ended"
	MsgPing           = "ping"
	MsgPingResponse   = "ping-response"
	MsgMainClosing    = "main-tab-closing"
)

// Message is one frame on the tab channel. SenderID lets a bridge skip its
// own broadcasts.
type Message struct {
	Kind     string          `json:"kind"`
	SenderID string          `json:"senderId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Item mirrors the hub's wire shape for one playlist entry.
type Item struct {
	ID         string  `json:"id"`
	Artist     string  `json:"artist"`
	Title      string  `json:"title"`
	SingerName *string `json:"singerName,omitempty"`
	Position   int     `json:"position"`
}

// Snapshot is the full canonical playlist state a tab holds.
type Snapshot struct {
	PlaylistID string `json:"playlistId"`
	SessionID  string `json:"sessionId"`
	Items      []Item `json:"items"`
}

// serverEvent matches the hub's server→client frames.
type serverEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
